package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_pose/pose"
)

type fakeWorld struct {
	steps []float32
}

func (w *fakeWorld) Step(dt float32) { w.steps = append(w.steps, dt) }

func near(a, b mgl32.Vec3) bool { return a.Sub(b).Len() < 1e-5 }

func testSkeleton(t *testing.T) *pose.Skeleton {
	t.Helper()
	s, err := pose.NewSkeleton([]pose.BoneDef{
		{Name: "全ての親", Parent: pose.NoBone, Child: pose.NoBone, Target: pose.NoBone},
		{Name: pose.CenterBoneName, Parent: 0, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{0, 8, 0}},
		{Name: "hair", Parent: 1, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{0, 10, 0}},
		{Name: "skirt", Parent: 1, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{0, 6, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParseBodyType(t *testing.T) {
	for _, bt := range []BodyType{BodyKinematic, BodyDynamic, BodyAligned} {
		if got, err := ParseBodyType(bt.String()); err != nil || got != bt {
			t.Errorf("ParseBodyType(%q)=%v,%v; expected %v", bt.String(), got, err, bt)
		}
	}
	if _, err := ParseBodyType("soft"); err == nil {
		t.Errorf("ParseBodyType(soft) returned nil error")
	}
}

func TestBindValidation(t *testing.T) {
	s := testSkeleton(t)
	br := NewBridge(nil)
	if err := br.Bind(s, BodyDef{Name: "bad", Bone: 9, Type: BodyDynamic}, NewHoldBody()); err == nil {
		t.Errorf("Bind with bone 9 returned nil error")
	}
	if s.Bones()[0].IsUnderSimulation() {
		t.Errorf("failed bind marked a bone simulated")
	}

	empty, _ := pose.NewSkeleton(nil)
	if err := br.Bind(empty, BodyDef{Name: "lost", Bone: pose.NoBone}, NewHoldBody()); err == nil {
		t.Errorf("Bind to empty skeleton returned nil error")
	}
	if br.Len() != 0 {
		t.Errorf("Len()=%d after failed binds", br.Len())
	}
}

func TestKinematicBodyFollowsBone(t *testing.T) {
	s := testSkeleton(t)
	br := NewBridge(nil)
	body := NewHoldBody()
	def := BodyDef{Name: "head", Bone: 2, Type: BodyKinematic, Position: mgl32.Vec3{0, 1, 0}}
	if err := br.Bind(s, def, body); err != nil {
		t.Fatal(err)
	}
	if !body.IsKinematic() || s.Bone(2).IsUnderSimulation() {
		t.Errorf("kinematic body: body kinematic=%v bone simulated=%v", body.IsKinematic(), s.Bone(2).IsUnderSimulation())
	}

	s.SetLocalTranslation(1, mgl32.Vec3{3, 0, 0})
	s.Propagate()
	br.Drive(s)
	if got := body.Transform().Col(3).Vec3(); !near(got, mgl32.Vec3{3, 11, 0}) {
		t.Errorf("body position=%v; expected [3 11 0]", got)
	}

	body.SetTransform(mgl32.Translate3D(100, 0, 0))
	br.Apply(s)
	if got := s.Bone(2).WorldPosition(); !near(got, mgl32.Vec3{3, 10, 0}) {
		t.Errorf("kinematic body moved its bone to %v", got)
	}
}

func TestDynamicBodyDrivesBone(t *testing.T) {
	s := testSkeleton(t)
	w := &fakeWorld{}
	br := NewBridge(w)
	body := NewHoldBody()
	def := BodyDef{Name: "hair", Bone: 2, Type: BodyDynamic, Position: mgl32.Vec3{0, -1, 0}, Rotation: mgl32.Vec3{0, 0, math.Pi / 2}}
	if err := br.Bind(s, def, body); err != nil {
		t.Fatal(err)
	}
	if body.IsKinematic() || !s.Bone(2).IsUnderSimulation() {
		t.Fatalf("dynamic body: body kinematic=%v bone simulated=%v", body.IsKinematic(), s.Bone(2).IsUnderSimulation())
	}
	if got := body.Transform().Col(3).Vec3(); !near(got, mgl32.Vec3{0, 9, 0}) {
		t.Errorf("initial body position=%v; expected [0 9 0]", got)
	}

	// the simulation dropped the body by 2
	body.SetTransform(mgl32.Translate3D(0, -2, 0).Mul4(body.Transform()))
	br.Drive(s)
	br.Step(0.5)
	br.Apply(s)

	if len(w.steps) != 1 || w.steps[0] != 0.5 {
		t.Errorf("world steps=%v; expected [0.5]", w.steps)
	}
	if got := s.Bone(2).WorldPosition(); !near(got, mgl32.Vec3{0, 8, 0}) {
		t.Errorf("bone position=%v; expected [0 8 0]", got)
	}
	if got := s.Bone(2).WorldTransform().Mat3(); !nearMat3(got, mgl32.Ident3()) {
		t.Errorf("bone rotation=%v; expected identity", got)
	}
}

func nearMat3(a, b mgl32.Mat3) bool {
	for i := range a {
		if d := a[i] - b[i]; d > 1e-5 || d < -1e-5 {
			return false
		}
	}
	return true
}

func TestAlignedBodyKeepsTranslation(t *testing.T) {
	s := testSkeleton(t)
	br := NewBridge(nil)
	body := NewHoldBody()
	if err := br.Bind(s, BodyDef{Name: "skirt", Bone: 3, Type: BodyAligned}, body); err != nil {
		t.Fatal(err)
	}

	rot := mgl32.QuatRotate(math.Pi/2, mgl32.Vec3{0, 0, 1}).Mat4()
	body.SetTransform(mgl32.Translate3D(50, 50, 50).Mul4(rot))
	br.Apply(s)

	w := s.Bone(3).WorldTransform()
	if got := s.Bone(3).WorldPosition(); !near(got, mgl32.Vec3{0, 6, 0}) {
		t.Errorf("aligned bone position=%v; expected animated [0 6 0]", got)
	}
	if !nearMat3(w.Mat3(), rot.Mat3()) {
		t.Errorf("aligned bone rotation=%v; expected %v", w.Mat3(), rot.Mat3())
	}
}

func TestUnanchoredBodyUsesCenter(t *testing.T) {
	s := testSkeleton(t)
	br := NewBridge(nil)
	body := NewHoldBody()
	if err := br.Bind(s, BodyDef{Name: "float", Bone: pose.NoBone, Type: BodyDynamic}, body); err != nil {
		t.Fatal(err)
	}
	if got := body.Transform().Col(3).Vec3(); !near(got, mgl32.Vec3{0, 8, 0}) {
		t.Errorf("body placed at %v; expected center bone [0 8 0]", got)
	}

	body.SetTransform(mgl32.Translate3D(0, -30, 0))
	br.Apply(s)
	for i, b := range s.Bones() {
		if b.IsUnderSimulation() {
			t.Errorf("bone %d simulated by an unanchored body", i)
		}
	}
	if got := s.Bone(1).WorldPosition(); !near(got, mgl32.Vec3{0, 8, 0}) {
		t.Errorf("center moved to %v", got)
	}
}

func TestSetKinematic(t *testing.T) {
	s := testSkeleton(t)
	br := NewBridge(nil)
	hair, head := NewHoldBody(), NewHoldBody()
	br.Bind(s, BodyDef{Name: "hair", Bone: 2, Type: BodyDynamic}, hair)
	br.Bind(s, BodyDef{Name: "head", Bone: 1, Type: BodyKinematic}, head)

	br.SetKinematic(s, true)
	if !br.IsKinematic() || !hair.IsKinematic() || s.Bone(2).IsUnderSimulation() {
		t.Fatalf("kinematic mode: bridge=%v hair=%v bone simulated=%v", br.IsKinematic(), hair.IsKinematic(), s.Bone(2).IsUnderSimulation())
	}

	s.SetLocalTranslation(2, mgl32.Vec3{1, 0, 0})
	s.Propagate()
	br.Drive(s)
	br.Apply(s)
	if got := hair.Transform().Col(3).Vec3(); !near(got, mgl32.Vec3{1, 10, 0}) {
		t.Errorf("hair body at %v; expected to follow bone to [1 10 0]", got)
	}

	br.SetKinematic(s, false)
	if hair.IsKinematic() || !head.IsKinematic() || !s.Bone(2).IsUnderSimulation() {
		t.Errorf("dynamic mode: hair=%v head=%v bone simulated=%v", hair.IsKinematic(), head.IsKinematic(), s.Bone(2).IsUnderSimulation())
	}
	if defs := br.Bodies(); len(defs) != 2 || defs[0].Name != "hair" || defs[1].Name != "head" {
		t.Errorf("Bodies()=%v", defs)
	}
}

func TestBridgeInModel(t *testing.T) {
	m, err := pose.NewModel("m", []pose.BoneDef{
		{Name: "root", Parent: pose.NoBone, Child: pose.NoBone, Target: pose.NoBone},
		{Name: "tail", Parent: 0, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{0, 0, -5}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	br := NewBridge(&fakeWorld{})
	body := NewHoldBody()
	br.Bind(m.Skeleton, BodyDef{Name: "tail", Bone: 1, Type: BodyDynamic}, body)
	m.Physics = br
	body.SetTransform(mgl32.Translate3D(0, -1, -5))

	if _, err := m.Update(nil, 0, 1.0/30); err != nil {
		t.Fatal(err)
	}
	if got := m.Skeleton.Bone(1).WorldPosition(); !near(got, mgl32.Vec3{0, -1, -5}) {
		t.Errorf("tail at %v; expected body position [0 -1 -5]", got)
	}
}
