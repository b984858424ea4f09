package physics

import (
	"log"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/utils"
)

var _ pose.Physics = (*Bridge)(nil)

type binding struct {
	def  BodyDef
	body Body
	// bone the body is placed from, the center bone for unanchored bodies
	anchor int
	offset mgl32.Mat4
	// offset inverse
	toBone mgl32.Mat4
}

func (b *binding) drivesBone() bool {
	return b.def.Bone != pose.NoBone && b.def.Type != BodyKinematic
}

// Bridge moves kinematic bodies after their bones and writes simulated bodies back into
// bones. Not safe for concurrent use.
type Bridge struct {
	World World

	bodies    []binding
	kinematic bool
}

func NewBridge(w World) *Bridge {
	return &Bridge{World: w}
}

func (br *Bridge) Len() int { return len(br.bodies) }

// IsKinematic reports whether every body is currently forced to follow its bone
func (br *Bridge) IsKinematic() bool { return br.kinematic }

// Bind attaches body to the skeleton and places it at the bone's current world transform
func (br *Bridge) Bind(s *pose.Skeleton, def BodyDef, body Body) error {
	b := binding{
		def:    def,
		body:   body,
		anchor: def.Bone,
		offset: def.Offset(),
	}
	b.toBone = utils.InvertRigid(b.offset)

	if def.Bone == pose.NoBone {
		center := s.CenterBone()
		if center == nil {
			return errors.Errorf("Body %q: skeleton has no bones to anchor to", def.Name)
		}
		b.anchor = center.Index
		if def.Type != BodyKinematic {
			log.Printf("[physics] body %q has no bone, anchored to %q and never moves it", def.Name, center.Name)
		}
	} else if s.Bone(def.Bone) == nil {
		return errors.Errorf("Body %q: bone index %d out of range [0,%d)", def.Name, def.Bone, s.Len())
	}

	body.SetKinematic(br.kinematic || def.Type == BodyKinematic)
	body.SetTransform(s.Bone(b.anchor).WorldTransform().Mul4(b.offset))
	if b.drivesBone() && !br.kinematic {
		s.SetSimulated(def.Bone, true)
	}
	br.bodies = append(br.bodies, b)
	return nil
}

func (br *Bridge) followsBone(b *binding) bool {
	return br.kinematic || b.def.Type == BodyKinematic
}

func (br *Bridge) Drive(s *pose.Skeleton) {
	for i := range br.bodies {
		b := &br.bodies[i]
		if br.followsBone(b) {
			b.body.SetTransform(s.Bone(b.anchor).WorldTransform().Mul4(b.offset))
		}
	}
}

func (br *Bridge) Step(dt float32) {
	if br.World != nil {
		br.World.Step(dt)
	}
}

// Apply overrides the world transform of bones owned by dynamic and aligned bodies
func (br *Bridge) Apply(s *pose.Skeleton) {
	if br.kinematic {
		return
	}
	for i := range br.bodies {
		b := &br.bodies[i]
		if !b.drivesBone() {
			continue
		}
		m := b.body.Transform().Mul4(b.toBone)
		if b.def.Type == BodyAligned {
			animated := s.Bone(b.def.Bone).WorldTransform()
			m[12], m[13], m[14] = animated[12], animated[13], animated[14]
		}
		s.OverrideWorldTransform(b.def.Bone, m)
	}
}

// SetKinematic switches every simulated body to follow its bone and gives the bones
// back to animation, or returns them to the simulation.
func (br *Bridge) SetKinematic(s *pose.Skeleton, kinematic bool) {
	br.kinematic = kinematic
	for i := range br.bodies {
		b := &br.bodies[i]
		if b.def.Type == BodyKinematic {
			continue
		}
		b.body.SetKinematic(kinematic)
		if b.drivesBone() {
			s.SetSimulated(b.def.Bone, !kinematic)
		}
	}
}

// Bodies returns the definitions of bound bodies in bind order
func (br *Bridge) Bodies() []BodyDef {
	defs := make([]BodyDef, len(br.bodies))
	for i := range br.bodies {
		defs[i] = br.bodies[i].def
	}
	return defs
}
