package gltfexport

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/mogaika/mmd_pose/pose"
)

func testSkeleton(t *testing.T) *pose.Skeleton {
	t.Helper()
	s, err := pose.NewSkeleton([]pose.BoneDef{
		{Name: "root", Parent: pose.NoBone, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{0, 1, 0}},
		{Name: "arm", Parent: 0, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{2, 1, 0}},
		{Name: "hand", Parent: 1, Child: pose.NoBone, Target: pose.NoBone, Position: mgl32.Vec3{4, 1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func near(a, b []float32) bool {
	for i := range a {
		if d := a[i] - b[i]; d > 1e-5 || d < -1e-5 {
			return false
		}
	}
	return true
}

func TestExportHierarchy(t *testing.T) {
	s := testSkeleton(t)
	s.SetLocalRotation(1, mgl32.QuatRotate(math.Pi/2, mgl32.Vec3{0, 0, 1}))
	s.Propagate()

	e := Export(s)
	doc := e.Doc
	if len(e.JointNodes) != 3 {
		t.Fatalf("len(JointNodes)=%d; expected 3", len(e.JointNodes))
	}
	for i, name := range []string{"root", "arm", "hand"} {
		if n := doc.Nodes[e.JointNodes[i]]; n.Name != name {
			t.Errorf("node %d name=%q; expected %q", i, n.Name, name)
		}
	}

	arm := doc.Nodes[e.JointNodes[1]]
	if !near(arm.Translation[:], []float32{2, 0, 0}) {
		t.Errorf("arm translation=%v; expected [2 0 0]", arm.Translation)
	}
	c := float32(math.Sqrt2 / 2)
	if !near(arm.Rotation[:], []float32{0, 0, c, c}) {
		t.Errorf("arm rotation=%v; expected [0 0 %v %v]", arm.Rotation, c, c)
	}
	if hand := doc.Nodes[e.JointNodes[2]]; !near(hand.Translation[:], []float32{2, 0, 0}) || !near(hand.Rotation[:], []float32{0, 0, 0, 1}) {
		t.Errorf("hand translation=%v rotation=%v", hand.Translation, hand.Rotation)
	}

	if root := doc.Nodes[e.JointNodes[0]]; len(root.Children) != 1 || root.Children[0] != e.JointNodes[1] {
		t.Errorf("root children=%v", root.Children)
	}
	if e.Sticks == nil {
		t.Fatalf("no stick mesh")
	}
	if scene := doc.Scenes[0].Nodes; len(scene) != 2 || scene[0] != e.JointNodes[0] || scene[1] != *e.Sticks {
		t.Errorf("scene nodes=%v", scene)
	}
}

func TestExportSkin(t *testing.T) {
	s := testSkeleton(t)
	doc := Export(s).Doc
	if len(doc.Skins) != 1 {
		t.Fatalf("len(Skins)=%d; expected 1", len(doc.Skins))
	}
	skin := doc.Skins[0]
	if len(skin.Joints) != 3 || skin.InverseBindMatrices == nil {
		t.Fatalf("skin=%+v", skin)
	}

	acc := doc.Accessors[*skin.InverseBindMatrices]
	if acc.Count != 3 || acc.Type != gltf.AccessorMat4 || acc.ComponentType != gltf.ComponentFloat {
		t.Fatalf("inverse bind accessor=%+v", acc)
	}
	view := doc.BufferViews[*acc.BufferView]
	data := doc.Buffers[view.Buffer].Data[view.ByteOffset : view.ByteOffset+view.ByteLength]
	for i := 0; i < 3; i++ {
		var m mgl32.Mat4
		for j := range m {
			m[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*64+j*4:]))
		}
		if expected := s.Bone(i).BindInverseTransform(); m != expected {
			t.Errorf("inverse bind matrix %d=%v; expected %v", i, m, expected)
		}
	}
}

func TestExportEmpty(t *testing.T) {
	s, err := pose.NewSkeleton(nil)
	if err != nil {
		t.Fatal(err)
	}
	e := Export(s)
	if len(e.Doc.Nodes) != 0 || len(e.Doc.Skins) != 0 || e.Sticks != nil {
		t.Errorf("empty export has nodes=%d skins=%d", len(e.Doc.Nodes), len(e.Doc.Skins))
	}
}

func TestWriteBinary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBinary(&buf, Export(testSkeleton(t)).Doc); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("glTF")) {
		t.Fatalf("output does not start with glb magic: %q", buf.Bytes()[:4])
	}

	var doc gltf.Document
	if err := gltf.NewDecoder(&buf).Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Nodes) != 4 || doc.Nodes[2].Name != "hand" || len(doc.Skins) != 1 {
		t.Errorf("decoded document nodes=%d skins=%d", len(doc.Nodes), len(doc.Skins))
	}
}
