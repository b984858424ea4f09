package pose

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

type BoneType uint8

// Codes 0-9 match the bone kinds stored in model files
const (
	BoneRotate BoneType = iota
	BoneRotateMove
	BoneIKDestination
	BoneUnknown
	BoneUnderIK
	BoneUnderRotate
	BoneIKTarget
	BoneInvisible
	BoneTwist
	BoneFollowRotate
	BoneKinematic
)

var boneTypeNames = [...]string{
	BoneRotate:        "rotate",
	BoneRotateMove:    "rotate_move",
	BoneIKDestination: "ik_destination",
	BoneUnknown:       "unknown",
	BoneUnderIK:       "under_ik",
	BoneUnderRotate:   "under_rotate",
	BoneIKTarget:      "ik_target",
	BoneInvisible:     "invisible",
	BoneTwist:         "twist",
	BoneFollowRotate:  "follow_rotate",
	BoneKinematic:     "kinematic",
}

func (t BoneType) String() string {
	if int(t) < len(boneTypeNames) {
		return boneTypeNames[t]
	}
	return "unknown"
}

func ParseBoneType(s string) (BoneType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BoneRotate, nil
	}
	for i, name := range boneTypeNames {
		if name == s {
			return BoneType(i), nil
		}
	}
	return BoneUnknown, errors.Errorf("Unknown bone type %q", s)
}

func (t BoneType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// NoBone marks an absent parent, child or target reference
const NoBone = -1

// Bone is a single joint. References to other bones are indices into the owning Skeleton.
type Bone struct {
	Name  string
	Type  BoneType
	Index int

	Parent int
	Child  int
	Target int

	// bind pose position in model space
	OriginPosition mgl32.Vec3
	// OriginPosition relative to the parent's OriginPosition
	Offset mgl32.Vec3

	Rotation mgl32.Quat
	Position mgl32.Vec3

	RotateCoef        float32
	MotionIndependent bool

	xAxisConstrained bool
	simulated        bool

	local       mgl32.Mat4
	world       mgl32.Mat4
	bindInverse mgl32.Mat4
}

var xAxis = mgl32.Vec3{1, 0, 0}

func (b *Bone) localWith(q mgl32.Quat) mgl32.Mat4 {
	t := b.Position.Add(b.Offset)
	m := q.Mat4()
	m[12], m[13], m[14] = t[0], t[1], t[2]
	return m
}

func (b *Bone) UpdateLocalTransform() {
	b.local = b.localWith(b.Rotation)
}

func (b *Bone) ComposeWorldTransform(parentWorld mgl32.Mat4) {
	b.UpdateLocalTransform()
	b.world = parentWorld.Mul4(b.local)
}

func (b *Bone) composeWith(parentWorld mgl32.Mat4, q mgl32.Quat) {
	b.local = b.localWith(q)
	b.world = parentWorld.Mul4(b.local)
}

func (b *Bone) LocalTransform() mgl32.Mat4 { return b.local }

// WorldTransform is valid only right after a propagation pass
func (b *Bone) WorldTransform() mgl32.Mat4 { return b.world }

func (b *Bone) WorldPosition() mgl32.Vec3 {
	return mgl32.Vec3{b.world[12], b.world[13], b.world[14]}
}

func (b *Bone) BindInverseTransform() mgl32.Mat4 { return b.bindInverse }

// SkinTransform moves bind pose geometry into the posed space
func (b *Bone) SkinTransform() mgl32.Mat4 {
	return b.world.Mul4(b.bindInverse)
}

func (b *Bone) IsRoot() bool              { return b.Parent == NoBone }
func (b *Bone) IsInvisible() bool         { return b.Type == BoneInvisible }
func (b *Bone) IsUnderSimulation() bool   { return b.simulated }
func (b *Bone) IsXAxisConstrained() bool  { return b.xAxisConstrained }
func (b *Bone) IsSecondaryRotation() bool { return b.Type == BoneFollowRotate || b.Type == BoneUnderRotate }

func (b *Bone) reset() {
	b.Position = mgl32.Vec3{}
	b.Rotation = mgl32.QuatIdent()
	b.local = mgl32.Translate3D(b.Offset[0], b.Offset[1], b.Offset[2])
	b.world = mgl32.Translate3D(b.OriginPosition[0], b.OriginPosition[1], b.OriginPosition[2])
}
