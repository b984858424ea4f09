package gltfexport

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/mogaika/mmd_pose/pose"
)

// Exported maps bones to the document created by Export
type Exported struct {
	Doc        *gltf.Document
	JointNodes []uint32
	// line mesh connecting joints in posed space, nil for skeletons without parented bones
	Sticks *uint32
}

// writeMatrices stores column major matrices in the last buffer and returns the accessor
func writeMatrices(doc *gltf.Document, ms []mgl32.Mat4) uint32 {
	if len(doc.Buffers) == 0 {
		doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	}
	buffer := doc.Buffers[len(doc.Buffers)-1]
	for len(buffer.Data)%4 != 0 {
		buffer.Data = append(buffer.Data, 0)
	}

	offset := len(buffer.Data)
	data := make([]byte, len(ms)*64)
	for i, m := range ms {
		for j, f := range m {
			binary.LittleEndian.PutUint32(data[i*64+j*4:], math.Float32bits(f))
		}
	}
	buffer.Data = append(buffer.Data, data...)
	buffer.ByteLength = uint32(len(buffer.Data))

	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
		Buffer:     uint32(len(doc.Buffers) - 1),
		ByteOffset: uint32(offset),
		ByteLength: uint32(len(data)),
	})
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(uint32(len(doc.BufferViews) - 1)),
		ComponentType: gltf.ComponentFloat,
		Count:         uint32(len(ms)),
		Type:          gltf.AccessorMat4,
	})
	return uint32(len(doc.Accessors) - 1)
}

func localOf(s *pose.Skeleton, b *pose.Bone) mgl32.Mat4 {
	parent := s.RootTransform
	if p := s.Bone(b.Parent); p != nil {
		parent = p.WorldTransform()
	}
	return parent.Inv().Mul4(b.WorldTransform())
}

// Export writes the current pose as a node hierarchy with a skin. Local transforms are
// taken from world transforms, so physics and secondary rotation results are included.
func Export(s *pose.Skeleton) *Exported {
	doc := gltf.NewDocument()
	e := &Exported{
		Doc:        doc,
		JointNodes: make([]uint32, s.Len()),
	}

	bones := s.Bones()
	for i := range bones {
		b := &bones[i]
		local := localOf(s, b)
		q := mgl32.Mat4ToQuat(local).Normalize()

		e.JointNodes[i] = uint32(len(doc.Nodes))
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        b.Name,
			Matrix:      mgl32.Ident4(),
			Translation: local.Col(3).Vec3(),
			Rotation:    q.V.Vec4(q.W),
			Scale:       [3]float32{1, 1, 1},
		})
	}

	var roots []uint32
	for i := range bones {
		if p := bones[i].Parent; p != pose.NoBone {
			parent := doc.Nodes[e.JointNodes[p]]
			parent.Children = append(parent.Children, e.JointNodes[i])
		} else {
			roots = append(roots, e.JointNodes[i])
		}
	}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, roots...)

	if len(bones) == 0 {
		return e
	}

	ibms := make([]mgl32.Mat4, len(bones))
	for i := range bones {
		ibms[i] = bones[i].BindInverseTransform()
	}
	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                "skeleton",
		InverseBindMatrices: gltf.Index(writeMatrices(doc, ibms)),
		Skeleton:            gltf.Index(roots[0]),
		Joints:              e.JointNodes,
	})

	e.writeSticks(s)
	return e
}

func (e *Exported) writeSticks(s *pose.Skeleton) {
	doc := e.Doc
	bones := s.Bones()

	positions := make([][3]float32, len(bones))
	indices := make([]uint32, 0, len(bones)*2)
	for i := range bones {
		positions[i] = bones[i].WorldPosition()
		if p := bones[i].Parent; p != pose.NoBone && !bones[i].IsInvisible() {
			indices = append(indices, uint32(p), uint32(i))
		}
	}
	if len(indices) == 0 {
		return
	}

	positionAccessor := modeler.WritePosition(doc, positions)
	indicesAccessor := modeler.WriteIndices(doc, indices)
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "sticks",
		Primitives: []*gltf.Primitive{
			{
				Indices:    &indicesAccessor,
				Attributes: map[string]uint32{"POSITION": positionAccessor},
				Mode:       gltf.PrimitiveLines,
			},
		},
	})

	node := uint32(len(doc.Nodes))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:     "sticks",
		Matrix:   mgl32.Ident4(),
		Mesh:     gltf.Index(uint32(len(doc.Meshes) - 1)),
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, node)
	e.Sticks = &node
}

func WriteBinary(w io.Writer, doc *gltf.Document) error {
	encoder := gltf.NewEncoder(w)
	encoder.AsBinary = true
	if err := encoder.Encode(doc); err != nil {
		return errors.Wrapf(err, "Failed to encode glb")
	}
	return nil
}
