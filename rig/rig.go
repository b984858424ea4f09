package rig

import (
	"io"
	"log"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mogaika/mmd_pose/physics"
	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/utils"
)

// Vec3 is written as a three element yaml sequence
type Vec3 mgl32.Vec3

func (v *Vec3) UnmarshalYAML(n *yaml.Node) error {
	var f []float32
	if err := n.Decode(&f); err != nil {
		return err
	}
	if len(f) != 3 {
		return errors.Errorf("line %d: expected 3 components, got %d", n.Line, len(f))
	}
	copy(v[:], f)
	return nil
}

func (v Vec3) MarshalYAML() (interface{}, error) {
	return []float32{v[0], v[1], v[2]}, nil
}

type Bone struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type,omitempty"`
	Parent string `yaml:"parent,omitempty"`
	// follow rotate source
	Child string `yaml:"child,omitempty"`
	// under rotate source
	Target           string  `yaml:"target,omitempty"`
	Position         Vec3    `yaml:"position"`
	RotateCoef       float32 `yaml:"rotate_coef,omitempty"`
	XAxisConstrained bool    `yaml:"x_axis_constrained,omitempty"`
}

type IK struct {
	Destination string   `yaml:"destination"`
	Effector    string   `yaml:"effector"`
	Links       []string `yaml:"links"`
	Iterations  int      `yaml:"iterations"`
	// degrees
	AngleStep float32 `yaml:"angle_step"`
}

type Body struct {
	Name string `yaml:"name"`
	// empty for bodies anchored to the center bone
	Bone     string `yaml:"bone,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Position Vec3   `yaml:"position"`
	// degrees, euler ZYX
	Rotation Vec3 `yaml:"rotation"`
}

type Rig struct {
	Name   string `yaml:"name"`
	Bones  []Bone `yaml:"bones"`
	IKs    []IK   `yaml:"iks,omitempty"`
	Bodies []Body `yaml:"bodies,omitempty"`
}

func Load(r io.Reader) (*Rig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rig Rig
	if err := dec.Decode(&rig); err != nil {
		return nil, errors.Wrapf(err, "Failed to decode rig")
	}
	return &rig, nil
}

func LoadFile(path string) (*Rig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open rig %q", path)
	}
	defer f.Close()
	rig, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "Rig %q", path)
	}
	if rig.Name == "" {
		rig.Name = path
	}
	return rig, nil
}

func (r *Rig) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.Wrapf(err, "Failed to encode rig")
	}
	return enc.Close()
}

// DecodeName reads a fixed size name field in the configured encoding
func DecodeName(b []byte) (string, error) {
	return utils.BytesToString(b)
}

type resolver struct {
	rig   string
	names map[string]int
}

func (res *resolver) index(name, what string) int {
	if name == "" {
		return pose.NoBone
	}
	if i, ok := res.names[name]; ok {
		return i
	}
	log.Printf("[rig] %s: %s references unknown bone %q", res.rig, what, name)
	return pose.NoBone
}

func degToRad(f float32) float32 { return f * math.Pi / 180 }

// Build resolves bone names and creates the model with its rigid body descriptions
func Build(r *Rig) (*pose.Model, []physics.BodyDef, error) {
	res := &resolver{rig: r.Name, names: make(map[string]int, len(r.Bones))}
	for i, b := range r.Bones {
		if _, exists := res.names[b.Name]; exists {
			log.Printf("[rig] %s: duplicate bone name %q at %d, lookups use the first one", r.Name, b.Name, i)
			continue
		}
		res.names[b.Name] = i
	}

	bones := make([]pose.BoneDef, len(r.Bones))
	for i, b := range r.Bones {
		bt, err := pose.ParseBoneType(b.Type)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Bone %q", b.Name)
		}
		bones[i] = pose.BoneDef{
			Name:             b.Name,
			Type:             bt,
			Parent:           res.index(b.Parent, b.Name+" parent"),
			Child:            res.index(b.Child, b.Name+" child"),
			Target:           res.index(b.Target, b.Name+" target"),
			Position:         mgl32.Vec3(b.Position),
			RotateCoef:       b.RotateCoef,
			XAxisConstrained: b.XAxisConstrained,
		}
	}

	iks := make([]pose.IKDef, len(r.IKs))
	for i, ik := range r.IKs {
		links := make([]int, len(ik.Links))
		for j, l := range ik.Links {
			links[j] = res.index(l, "ik link")
		}
		iks[i] = pose.IKDef{
			Destination: res.index(ik.Destination, "ik destination"),
			Effector:    res.index(ik.Effector, "ik effector"),
			Links:       links,
			Iterations:  ik.Iterations,
			AngleStep:   degToRad(ik.AngleStep),
		}
	}

	model, err := pose.NewModel(r.Name, bones, iks)
	if err != nil {
		return nil, nil, err
	}

	bodies := make([]physics.BodyDef, len(r.Bodies))
	for i, b := range r.Bodies {
		bt, err := physics.ParseBodyType(b.Type)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Body %q", b.Name)
		}
		bodies[i] = physics.BodyDef{
			Name:     b.Name,
			Bone:     res.index(b.Bone, "body "+b.Name),
			Type:     bt,
			Position: mgl32.Vec3(b.Position),
			Rotation: utils.DegreeToRadiansV3(mgl32.Vec3(b.Rotation)),
		}
	}
	return model, bodies, nil
}
