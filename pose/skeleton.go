package pose

import (
	"log"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

var ErrCyclicHierarchy = errors.New("cyclic bone hierarchy")

// BoneDef is the load time description of a bone, references are indices into the same list
type BoneDef struct {
	Name             string
	Type             BoneType
	Parent           int
	Child            int
	Target           int
	Position         mgl32.Vec3
	RotateCoef       float32
	XAxisConstrained bool
}

// Skeleton owns every bone of a model. Bones are never removed individually.
type Skeleton struct {
	// applied to bones without a parent
	RootTransform mgl32.Mat4

	bones     []Bone
	byName    map[string]int
	secondary []int
}

func resolveIndex(i, count int) int {
	if i < 0 || i >= count {
		return NoBone
	}
	return i
}

func NewSkeleton(defs []BoneDef) (*Skeleton, error) {
	s := &Skeleton{
		RootTransform: mgl32.Ident4(),
		bones:         make([]Bone, len(defs)),
		byName:        make(map[string]int, len(defs)),
	}

	for i, def := range defs {
		b := &s.bones[i]
		*b = Bone{
			Name:             def.Name,
			Type:             def.Type,
			Index:            i,
			Parent:           resolveIndex(def.Parent, len(defs)),
			Child:            resolveIndex(def.Child, len(defs)),
			Target:           resolveIndex(def.Target, len(defs)),
			OriginPosition:   def.Position,
			RotateCoef:       mgl32.Clamp(def.RotateCoef, 0, 1),
			xAxisConstrained: def.XAxisConstrained || isKneeName(def.Name),
		}
		if def.Parent != NoBone && b.Parent == NoBone {
			log.Printf("[pose] bone %q: parent index %d out of range, treated as root", def.Name, def.Parent)
		}
		if _, exists := s.byName[def.Name]; !exists {
			s.byName[def.Name] = i
		}
		b.bindInverse = mgl32.Translate3D(-def.Position[0], -def.Position[1], -def.Position[2])
	}

	if err := s.checkAcyclic(); err != nil {
		return nil, err
	}

	for i := range s.bones {
		b := &s.bones[i]
		if b.Parent != NoBone {
			b.Offset = b.OriginPosition.Sub(s.bones[b.Parent].OriginPosition)
		} else {
			b.Offset = b.OriginPosition
		}
		b.MotionIndependent = b.Parent == NoBone || isMotionIndependentName(b.Name)

		switch {
		case b.Type == BoneFollowRotate && b.Child == NoBone:
			log.Printf("[pose] follow rotate bone %q has no child, secondary rotation disabled", b.Name)
		case b.Type == BoneUnderRotate && b.Target == NoBone:
			log.Printf("[pose] under rotate bone %q has no target, secondary rotation disabled", b.Name)
		case b.IsSecondaryRotation():
			s.secondary = append(s.secondary, i)
		}
	}

	s.Reset()
	s.Propagate()
	return s, nil
}

func (s *Skeleton) checkAcyclic() error {
	const (
		unvisited = iota
		walking
		done
	)
	state := make([]uint8, len(s.bones))
	for i := range s.bones {
		j := i
		for j != NoBone && state[j] == unvisited {
			state[j] = walking
			j = s.bones[j].Parent
		}
		if j != NoBone && state[j] == walking {
			return errors.Wrapf(ErrCyclicHierarchy, "bone %q", s.bones[j].Name)
		}
		for j = i; j != NoBone && state[j] == walking; j = s.bones[j].Parent {
			state[j] = done
		}
	}
	return nil
}

func (s *Skeleton) Len() int { return len(s.bones) }

// Bone returns nil when i is out of range
func (s *Skeleton) Bone(i int) *Bone {
	if i < 0 || i >= len(s.bones) {
		return nil
	}
	return &s.bones[i]
}

// Bones exposes the bone array for reading
func (s *Skeleton) Bones() []Bone { return s.bones }

func (s *Skeleton) IndexOf(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return NoBone
}

// FindBone returns nil if there is no bone with such name
func (s *Skeleton) FindBone(name string) *Bone {
	return s.Bone(s.IndexOf(name))
}

// CenterBone anchors rigid bodies that declare no bone, first bone if the model has no center
func (s *Skeleton) CenterBone() *Bone {
	if b := s.FindBone(CenterBoneName); b != nil {
		return b
	}
	return s.Bone(0)
}

func (s *Skeleton) parentWorld(b *Bone) mgl32.Mat4 {
	if b.Parent == NoBone {
		return s.RootTransform
	}
	return s.bones[b.Parent].world
}

func (s *Skeleton) updateBone(i int) {
	b := &s.bones[i]
	b.ComposeWorldTransform(s.parentWorld(b))
}

// Propagate composes world transforms in declaration order. A parent declared after
// its child contributes the transform it had before this pass.
func (s *Skeleton) Propagate() {
	for i := range s.bones {
		s.updateBone(i)
	}
}

// UpdateSecondary applies follow/under rotate bones in declaration order,
// only the secondary bone itself is recomputed.
func (s *Skeleton) UpdateSecondary() {
	for _, i := range s.secondary {
		b := &s.bones[i]
		var q mgl32.Quat
		switch b.Type {
		case BoneUnderRotate:
			q = b.Rotation.Mul(s.bones[b.Target].Rotation)
		case BoneFollowRotate:
			q = b.Rotation.Mul(mgl32.QuatSlerp(mgl32.QuatIdent(), s.bones[b.Child].Rotation, b.RotateCoef))
		}
		b.composeWith(s.parentWorld(b), q)
	}
}

// Reset returns every bone to the bind pose
func (s *Skeleton) Reset() {
	for i := range s.bones {
		s.bones[i].reset()
	}
}

func (s *Skeleton) checkIndex(i int) error {
	if i < 0 || i >= len(s.bones) {
		return errors.Errorf("Bone index %d out of range [0,%d)", i, len(s.bones))
	}
	return nil
}

func (s *Skeleton) SetLocalRotation(i int, q mgl32.Quat) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.bones[i].Rotation = q
	return nil
}

func (s *Skeleton) SetLocalTranslation(i int, v mgl32.Vec3) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.bones[i].Position = v
	return nil
}

// OverrideWorldTransform replaces the world transform computed this frame
func (s *Skeleton) OverrideWorldTransform(i int, m mgl32.Mat4) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.bones[i].world = m
	return nil
}

func (s *Skeleton) SetSimulated(i int, simulated bool) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.bones[i].simulated = simulated
	return nil
}

// SkinTransforms appends the skin matrix of every bone to dst
func (s *Skeleton) SkinTransforms(dst []mgl32.Mat4) []mgl32.Mat4 {
	for i := range s.bones {
		dst = append(dst, s.bones[i].SkinTransform())
	}
	return dst
}

func (s *Skeleton) isAncestorOrSelf(ancestor, i int) bool {
	for ; i != NoBone; i = s.bones[i].Parent {
		if i == ancestor {
			return true
		}
	}
	return false
}

func (s *Skeleton) depth(i int) int {
	d := 0
	for i = s.bones[i].Parent; i != NoBone; i = s.bones[i].Parent {
		d++
	}
	return d
}
