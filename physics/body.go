package physics

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/utils"
)

type BodyType uint8

const (
	// follows its bone
	BodyKinematic BodyType = iota
	// drives its bone
	BodyDynamic
	// drives bone rotation, bone keeps its animated translation
	BodyAligned
)

func (t BodyType) String() string {
	switch t {
	case BodyKinematic:
		return "kinematic"
	case BodyDynamic:
		return "dynamic"
	case BodyAligned:
		return "aligned"
	}
	return "unknown"
}

func ParseBodyType(s string) (BodyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kinematic":
		return BodyKinematic, nil
	case "dynamic":
		return BodyDynamic, nil
	case "aligned":
		return BodyAligned, nil
	}
	return BodyKinematic, errors.Errorf("Unknown body type %q", s)
}

func (t BodyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Body is a rigid body owned by an external simulation
type Body interface {
	Transform() mgl32.Mat4
	SetTransform(m mgl32.Mat4)
	SetKinematic(kinematic bool)
}

type World interface {
	Step(dt float32)
}

type BodyDef struct {
	Name string
	// pose.NoBone anchors the body to the center bone, such body never moves bones
	Bone int
	Type BodyType
	// relative to the bone
	Position mgl32.Vec3
	// euler ZYX, radians
	Rotation mgl32.Vec3
}

// Offset is the body transform in its bone space
func (d BodyDef) Offset() mgl32.Mat4 {
	m := utils.EulerToQuat(d.Rotation).Mat4()
	m[12], m[13], m[14] = d.Position[0], d.Position[1], d.Position[2]
	return m
}

// HoldBody keeps whatever transform it was given last. Dynamic hold bodies freeze their
// bones in place until switched to kinematic.
type HoldBody struct {
	transform mgl32.Mat4
	kinematic bool
}

func NewHoldBody() *HoldBody {
	return &HoldBody{transform: mgl32.Ident4()}
}

func (b *HoldBody) Transform() mgl32.Mat4       { return b.transform }
func (b *HoldBody) SetTransform(m mgl32.Mat4)   { b.transform = m }
func (b *HoldBody) SetKinematic(kinematic bool) { b.kinematic = kinematic }
func (b *HoldBody) IsKinematic() bool           { return b.kinematic }
