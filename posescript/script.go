package posescript

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/utils"
)

type Op uint8

const (
	OpRotate Op = iota
	OpMove
	OpReset
)

func (op Op) String() string {
	switch op {
	case OpRotate:
		return "rot"
	case OpMove:
		return "move"
	case OpReset:
		return "reset"
	}
	return "unknown"
}

type Command struct {
	Op   Op
	Bone string
	// degrees for rotations (euler ZYX), model units for moves
	Value mgl32.Vec3
	Line  int
}

type Keyframe struct {
	Frame    float32
	Commands []Command
}

// Script holds poses in keyframes. A bone keeps the last value set before the
// requested frame, there is no interpolation.
type Script struct {
	Keyframes []Keyframe

	bones []string
}

var _ pose.Motion = (*Script)(nil)

func (sc *Script) collectBones() {
	seen := make(map[string]struct{})
	sc.bones = sc.bones[:0]
	for _, kf := range sc.Keyframes {
		for _, cmd := range kf.Commands {
			if cmd.Op == OpReset {
				continue
			}
			if _, ok := seen[cmd.Bone]; !ok {
				seen[cmd.Bone] = struct{}{}
				sc.bones = append(sc.bones, cmd.Bone)
			}
		}
	}
}

// Bones lists every bone the script animates, in order of first use
func (sc *Script) Bones() []string { return sc.bones }

// Length is the frame of the last keyframe
func (sc *Script) Length() float32 {
	if len(sc.Keyframes) == 0 {
		return 0
	}
	return sc.Keyframes[len(sc.Keyframes)-1].Frame
}

// Apply replays every keyframe up to frame. Bones the script animates start from the
// bind pose, other bones keep their current local pose unless a reset runs.
func (sc *Script) Apply(s *pose.Skeleton, frame float32) error {
	for _, name := range sc.bones {
		i := s.IndexOf(name)
		if i == pose.NoBone {
			return errors.Errorf("Script animates unknown bone %q", name)
		}
		s.SetLocalRotation(i, mgl32.QuatIdent())
		s.SetLocalTranslation(i, mgl32.Vec3{})
	}

	for _, kf := range sc.Keyframes {
		if kf.Frame > frame {
			break
		}
		for _, cmd := range kf.Commands {
			switch cmd.Op {
			case OpReset:
				s.Reset()
			case OpRotate:
				s.SetLocalRotation(s.IndexOf(cmd.Bone), utils.EulerToQuat(utils.DegreeToRadiansV3(cmd.Value)))
			case OpMove:
				s.SetLocalTranslation(s.IndexOf(cmd.Bone), cmd.Value)
			}
		}
	}
	return nil
}
