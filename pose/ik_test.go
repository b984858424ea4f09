package pose

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_pose/utils"
)

const (
	armRoot = iota
	armElbow
	armHand
	armTarget
)

// two links of length 10 lying along +X, the destination bone is a root
func armSkeleton(t *testing.T, dest mgl32.Vec3) *Skeleton {
	return mustSkeleton(t, []BoneDef{
		bone("shoulder", NoBone, 0, 0, 0),
		bone("elbow", armRoot, 10, 0, 0),
		bone("hand", armElbow, 20, 0, 0),
		bone("target", NoBone, dest[0], dest[1], dest[2]),
	})
}

func armChain(t *testing.T, s *Skeleton, iterations int, links ...int) *IKChain {
	t.Helper()
	if len(links) == 0 {
		links = []int{armElbow, armRoot}
	}
	c, err := NewIKChain(s, IKDef{
		Destination: armTarget,
		Effector:    armHand,
		Links:       links,
		Iterations:  iterations,
		AngleStep:   0.0698,
	})
	if err != nil {
		t.Fatalf("NewIKChain: %v", err)
	}
	return c
}

func effectorDistance(s *Skeleton) float32 {
	return s.Bone(armHand).WorldPosition().Sub(s.Bone(armTarget).WorldPosition()).Len()
}

func TestSolveConverges(t *testing.T) {
	for _, dest := range []mgl32.Vec3{
		{15, 5, 0},
		{10, 10, 0},
		{12, 8, 0},
	} {
		s := armSkeleton(t, dest)
		c := armChain(t, s, 30)
		r := c.Solve(s)
		if r.Skipped || !r.Converged {
			t.Errorf("Solve(%v)=%+v; expected converged", dest, r)
		}
		if r.Iterations > c.Iterations {
			t.Errorf("Solve(%v) made %d iterations; limit %d", dest, r.Iterations, c.Iterations)
		}
		if d := effectorDistance(s); d > 0.01 {
			t.Errorf("Solve(%v) left effector %v away from destination", dest, d)
		}
	}
}

func TestSolveSecondRunKeepsPose(t *testing.T) {
	s := armSkeleton(t, mgl32.Vec3{15, 5, 0})
	c := armChain(t, s, 30)
	c.Solve(s)
	before := s.Bone(armHand).WorldPosition()
	elbow := s.Bone(armElbow).Rotation

	r := c.Solve(s)
	if !r.Converged || r.Iterations != 1 {
		t.Errorf("second Solve=%+v; expected convergence on the first iteration", r)
	}
	if d := s.Bone(armHand).WorldPosition().Sub(before).Len(); d > 0.01 {
		t.Errorf("second Solve moved effector by %v", d)
	}
	if s.Bone(armElbow).Rotation != elbow {
		t.Errorf("second Solve changed elbow rotation %v -> %v", elbow, s.Bone(armElbow).Rotation)
	}
}

func TestSolveUnreachableStretchesTowardDestination(t *testing.T) {
	dest := mgl32.Vec3{30, 10, 0}
	s := armSkeleton(t, dest)
	r := armChain(t, s, 30).Solve(s)
	if r.Converged || r.Iterations != 30 {
		t.Errorf("Solve=%+v; expected all 30 iterations without convergence", r)
	}

	for _, i := range []int{armRoot, armElbow} {
		if q := s.Bone(i).Rotation; !utils.IsFiniteQuat(q) {
			t.Fatalf("bone %d rotation %v is not finite", i, q)
		}
	}
	reach := s.Bone(armHand).WorldPosition()
	if l := reach.Len(); l < 19.9 {
		t.Errorf("effector distance from shoulder=%v; expected a stretched arm", l)
	}
	if angle := math.Acos(float64(reach.Normalize().Dot(dest.Normalize()))); angle > 0.01 {
		t.Errorf("arm points %v radians away from destination", angle)
	}
}

func TestSolveRestoresEffectorRotation(t *testing.T) {
	s := armSkeleton(t, mgl32.Vec3{10, 10, 0})
	q := mgl32.Quat{W: 0.3, V: mgl32.Vec3{0.1, 0.2, 0.4}}
	s.SetLocalRotation(armHand, q)
	s.Propagate()

	armChain(t, s, 30).Solve(s)
	if got := s.Bone(armHand).Rotation; got != q {
		t.Errorf("effector rotation=%v; expected untouched %v", got, q)
	}

	hand := s.Bone(armHand)
	expected := s.Bone(armElbow).WorldTransform().Mul4(hand.localWith(q))
	if !nearMat(hand.WorldTransform(), expected, 1e-5) {
		t.Errorf("effector world=%v; expected %v", hand.WorldTransform(), expected)
	}
}

// links are visited in the given order, so reordering them yields another pose
func TestSolveLinkOrderMatters(t *testing.T) {
	dest := mgl32.Vec3{18, 4, 0}
	forward := armSkeleton(t, dest)
	armChain(t, forward, 30, armElbow, armRoot).Solve(forward)
	reversed := armSkeleton(t, dest)
	armChain(t, reversed, 30, armRoot, armElbow).Solve(reversed)

	for _, i := range []int{armRoot, armElbow} {
		a, b := forward.Bone(i).Rotation, reversed.Bone(i).Rotation
		if nearQuat(a, b, 1e-3) {
			t.Errorf("bone %d rotation %v is the same for both link orders", i, a)
		}
	}
}

// the elbow is not a link but still has to follow the shoulder during the solve
func TestSolveLinkGap(t *testing.T) {
	dest := mgl32.Vec3{15, 5, 0}
	s := armSkeleton(t, dest)
	c := armChain(t, s, 30, armRoot)
	if r := c.Solve(s); r.Skipped {
		t.Fatalf("Solve=%+v; expected a solve", r)
	}

	if q := s.Bone(armElbow).Rotation; q != mgl32.QuatIdent() {
		t.Errorf("elbow rotation=%v; expected identity", q)
	}
	dir := dest.Normalize()
	if elbow := s.Bone(armElbow).WorldPosition(); !near(elbow, dir.Mul(10), 0.05) {
		t.Errorf("elbow at %v; expected %v", elbow, dir.Mul(10))
	}
	if hand := s.Bone(armHand).WorldPosition(); !near(hand, dir.Mul(20), 0.1) {
		t.Errorf("hand at %v; expected %v", hand, dir.Mul(20))
	}
}

func TestSolveDegenerateDestinations(t *testing.T) {
	for _, dest := range []mgl32.Vec3{
		// directly behind the chain, no rotation axis exists
		{-5, 0, 0},
		// on the shoulder joint
		{0, 0, 0},
	} {
		s := armSkeleton(t, dest)
		armChain(t, s, 30).Solve(s)
		for i := 0; i < s.Len(); i++ {
			b := s.Bone(i)
			if !utils.IsFiniteQuat(b.Rotation) || !utils.IsFiniteV3(b.WorldPosition()) {
				t.Errorf("dest %v: bone %s has non finite pose %v %v", dest, b.Name, b.Rotation, b.WorldPosition())
			}
			if b.Rotation != mgl32.QuatIdent() {
				t.Errorf("dest %v: bone %s rotated to %v", dest, b.Name, b.Rotation)
			}
		}
	}
}

const (
	legHip = iota
	legKnee
	legAnkle
	legTarget
)

func legSkeleton(t *testing.T, dest mgl32.Vec3) (*Skeleton, *IKChain) {
	s := mustSkeleton(t, []BoneDef{
		bone("右足", NoBone, 0, 10, 0),
		bone("右ひざ", legHip, 0, 5, 0),
		bone("右足首", legKnee, 0, 0, 0),
		bone("右足ＩＫ", NoBone, dest[0], dest[1], dest[2]),
	})
	c, err := NewIKChain(s, IKDef{
		Destination: legTarget,
		Effector:    legAnkle,
		Links:       []int{legKnee, legHip},
		Iterations:  40,
		AngleStep:   0.5,
	})
	if err != nil {
		t.Fatalf("NewIKChain: %v", err)
	}
	return s, c
}

func TestSolveKneeBendsAroundX(t *testing.T) {
	for _, dest := range []mgl32.Vec3{
		{0, 2, 2},
		{1, 2, 2},
		{0, 3, -1},
		{0, 12, 0},
	} {
		s, c := legSkeleton(t, dest)
		r := c.Solve(s)
		if !r.Converged {
			t.Errorf("Solve(%v)=%+v; expected converged", dest, r)
		}
		if d := s.Bone(legAnkle).WorldPosition().Sub(dest).Len(); d > 0.01 {
			t.Errorf("Solve(%v) left ankle %v away", dest, d)
		}

		knee := s.Bone(legKnee).Rotation
		if !utils.IsFiniteQuat(knee) {
			t.Fatalf("Solve(%v) knee rotation %v is not finite", dest, knee)
		}
		if e := utils.QuatToEuler(knee); abs32(e[1]) > 1e-4 || abs32(e[2]) > 1e-4 {
			t.Errorf("Solve(%v) knee euler=%v; expected rotation around X only", dest, e)
		}
	}
}

func TestSolveSkipsSimulatedEffector(t *testing.T) {
	s := armSkeleton(t, mgl32.Vec3{10, 10, 0})
	c := armChain(t, s, 30)
	s.SetSimulated(armHand, true)
	if r := c.Solve(s); !r.Skipped {
		t.Errorf("Solve=%+v; expected skipped", r)
	}
	if s.Bone(armRoot).Rotation != mgl32.QuatIdent() {
		t.Errorf("skipped chain rotated shoulder")
	}
}

func TestNewIKChainValidation(t *testing.T) {
	valid := IKDef{Destination: armTarget, Effector: armHand, Links: []int{armElbow, armRoot}, Iterations: 10, AngleStep: 0.1}
	for _, test := range []struct {
		name   string
		modify func(d *IKDef)
	}{
		{"destination out of range", func(d *IKDef) { d.Destination = 4 }},
		{"effector out of range", func(d *IKDef) { d.Effector = -1 }},
		{"link out of range", func(d *IKDef) { d.Links = []int{armElbow, 9} }},
		{"link is effector", func(d *IKDef) { d.Links = []int{armHand, armElbow} }},
		{"link not an ancestor", func(d *IKDef) { d.Links = []int{armElbow, armTarget} }},
		{"no links", func(d *IKDef) { d.Links = nil }},
		{"zero iterations", func(d *IKDef) { d.Iterations = 0 }},
		{"zero angle step", func(d *IKDef) { d.AngleStep = 0 }},
	} {
		def := valid
		def.Links = append([]int(nil), valid.Links...)
		test.modify(&def)

		s := armSkeleton(t, mgl32.Vec3{10, 10, 0})
		c, err := NewIKChain(s, def)
		if err == nil {
			t.Errorf("%s: NewIKChain returned nil error", test.name)
		}
		if c == nil {
			t.Fatalf("%s: NewIKChain returned nil chain", test.name)
		}
		c.SetActive(true)
		if c.IsValid() || c.IsActive() {
			t.Errorf("%s: chain valid=%v active=%v; expected disabled", test.name, c.IsValid(), c.IsActive())
		}
		if r := c.Solve(s); !r.Skipped {
			t.Errorf("%s: Solve=%+v; expected skipped", test.name, r)
		}
	}

	s := armSkeleton(t, mgl32.Vec3{10, 10, 0})
	c, err := NewIKChain(s, valid)
	if err != nil || !c.IsValid() || !c.IsActive() {
		t.Errorf("NewIKChain(valid)=%v,%v; expected active chain", c, err)
	}
}
