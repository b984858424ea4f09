package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/utils"
)

const (
	ikPi             = 3.1415926
	ikMinDistance    = 0.0001
	ikMinAngle       = 0.00000001
	ikMinAxis        = 0.0000001
	ikMinRotationSum = 0.002
	ikMinRotation    = 0.00001
)

// IKDef is the load time description of an IK chain
type IKDef struct {
	Destination int
	Effector    int
	// closest to the effector first
	Links      []int
	Iterations int
	// maximum rotation of a link per step, radians
	AngleStep float32
}

type IKChain struct {
	Destination int
	Effector    int
	Links       []int
	Iterations  int
	AngleStep   float32

	valid  bool
	active bool

	// path from the topmost link down to the effector's parent, parents first
	order []int
	// per link: chain bones to recompute after that link rotates, parents first
	updates [][]int
}

type SolveResult struct {
	Skipped    bool
	Converged  bool
	Iterations int
}

// NewIKChain validates def against the skeleton. An invalid chain is still returned,
// inactive, together with the reason.
func NewIKChain(s *Skeleton, def IKDef) (*IKChain, error) {
	c := &IKChain{
		Destination: def.Destination,
		Effector:    def.Effector,
		Links:       append([]int(nil), def.Links...),
		Iterations:  def.Iterations,
		AngleStep:   def.AngleStep,
	}
	if err := c.validate(s); err != nil {
		return c, err
	}

	top := c.Links[0]
	for _, link := range c.Links {
		if s.depth(link) < s.depth(top) {
			top = link
		}
	}
	// bones between links are not rotated but still carry the effector
	for k := s.bones[c.Effector].Parent; ; k = s.bones[k].Parent {
		c.order = append(c.order, k)
		if k == top {
			break
		}
	}
	for i, j := 0, len(c.order)-1; i < j; i, j = i+1, j-1 {
		c.order[i], c.order[j] = c.order[j], c.order[i]
	}
	c.updates = make([][]int, len(c.Links))
	for j, link := range c.Links {
		for _, o := range c.order {
			if s.isAncestorOrSelf(link, o) {
				c.updates[j] = append(c.updates[j], o)
			}
		}
	}

	c.valid = true
	c.active = true
	return c, nil
}

func (c *IKChain) validate(s *Skeleton) error {
	if s.Bone(c.Destination) == nil {
		return errors.Errorf("Destination bone index %d out of range [0,%d)", c.Destination, s.Len())
	}
	if s.Bone(c.Effector) == nil {
		return errors.Errorf("Effector bone index %d out of range [0,%d)", c.Effector, s.Len())
	}
	if c.Iterations <= 0 {
		return errors.Errorf("Iterations must be positive, got %d", c.Iterations)
	}
	if !(c.AngleStep > 0) {
		return errors.Errorf("Angle step must be positive, got %v", c.AngleStep)
	}
	if len(c.Links) == 0 {
		return errors.Errorf("Chain has no links")
	}
	for _, link := range c.Links {
		if s.Bone(link) == nil {
			return errors.Errorf("Link bone index %d out of range [0,%d)", link, s.Len())
		}
		if link == c.Effector {
			return errors.Errorf("Effector %q is listed as a link", s.bones[link].Name)
		}
		if !s.isAncestorOrSelf(link, c.Effector) {
			return errors.Errorf("Link %q is not an ancestor of effector %q", s.bones[link].Name, s.bones[c.Effector].Name)
		}
	}
	return nil
}

func (c *IKChain) IsValid() bool  { return c.valid }
func (c *IKChain) IsActive() bool { return c.active }

// SetActive has no effect on chains that failed validation
func (c *IKChain) SetActive(active bool) {
	c.active = active && c.valid
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// Solve rotates the link bones with cyclic coordinate descent so the effector approaches
// the destination. The effector's own rotation is restored before returning.
func (c *IKChain) Solve(s *Skeleton) (r SolveResult) {
	if !c.active {
		r.Skipped = true
		return r
	}
	effector := &s.bones[c.Effector]
	if effector.simulated {
		r.Skipped = true
		return r
	}

	for _, i := range c.order {
		s.updateBone(i)
	}
	s.updateBone(c.Effector)

	originEffectorRotation := effector.Rotation
	destPosition := s.bones[c.Destination].WorldPosition()
	step := c.AngleStep

iterations:
	for i := 0; i < c.Iterations; i++ {
		r.Iterations = i + 1
		for j, link := range c.Links {
			bone := &s.bones[link]

			toLocal := utils.InvertRigid(bone.world)
			localDestination := mgl32.TransformCoordinate(destPosition, toLocal)
			localEffector := mgl32.TransformCoordinate(effector.WorldPosition(), toLocal)
			if d := localDestination.Sub(localEffector); d.Dot(d) < ikMinDistance {
				r.Converged = true
				break iterations
			}

			// the destination or the effector sits on the joint itself
			if localDestination.Len() == 0 || localEffector.Len() == 0 {
				continue
			}
			localDestination = localDestination.Normalize()
			localEffector = localEffector.Normalize()
			dot := localDestination.Dot(localEffector)
			if dot > 1 {
				continue
			}
			if dot < -1 {
				dot = -1
			}
			angle := float32(math.Acos(float64(dot)))
			if abs32(angle) < ikMinAngle {
				continue
			}
			angle = mgl32.Clamp(angle, -step, step)

			axis := localEffector.Cross(localDestination)
			axisLen2 := axis.Dot(axis)
			if axisLen2 < ikMinAxis && i > 0 {
				continue
			}

			if bone.xAxisConstrained {
				var delta mgl32.Quat
				if i == 0 {
					delta = mgl32.QuatRotate(abs32(angle), xAxis)
				} else {
					x := utils.QuatToEuler(mgl32.QuatRotate(angle, axis.Normalize()))[0]
					cx := utils.QuatToEuler(bone.Rotation)[0]
					if x+cx > ikPi {
						x = ikPi - cx
					}
					if ikMinRotationSum > x+cx {
						x = ikMinRotationSum - cx
					}
					x = mgl32.Clamp(x, -step, step)
					if abs32(x) < ikMinRotation {
						continue
					}
					delta = mgl32.QuatRotate(x, xAxis)
				}
				bone.Rotation = delta.Mul(bone.Rotation).Normalize()
			} else {
				// opposite vectors on the first pass, no usable axis
				if axisLen2 == 0 {
					continue
				}
				bone.Rotation = bone.Rotation.Mul(mgl32.QuatRotate(angle, axis.Normalize())).Normalize()
			}

			for _, k := range c.updates[j] {
				s.updateBone(k)
			}
			s.updateBone(c.Effector)
		}
	}

	effector.Rotation = originEffectorRotation
	s.updateBone(c.Effector)
	return r
}
