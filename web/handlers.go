package web

import (
	"bytes"
	"net/http"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/gltfexport"
	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/posescript"
	"github.com/mogaika/mmd_pose/render"
	"github.com/mogaika/mmd_pose/status"
	"github.com/mogaika/mmd_pose/utils"
	"github.com/mogaika/mmd_pose/webutils"
)

type jsonBone struct {
	Index             int
	Name              string
	Type              pose.BoneType
	Parent            int
	WorldPosition     mgl32.Vec3
	Rotation          [4]float32
	Euler             mgl32.Vec3
	Simulated         bool
	XAxisConstrained  bool
	MotionIndependent bool
}

func boneToJson(b *pose.Bone) jsonBone {
	return jsonBone{
		Index:             b.Index,
		Name:              b.Name,
		Type:              b.Type,
		Parent:            b.Parent,
		WorldPosition:     b.WorldPosition(),
		Rotation:          b.Rotation.V.Vec4(b.Rotation.W),
		Euler:             utils.RadiansToDegreeV3(utils.QuatToEuler(b.Rotation)),
		Simulated:         b.IsUnderSimulation(),
		XAxisConstrained:  b.IsXAxisConstrained(),
		MotionIndependent: b.MotionIndependent,
	}
}

type jsonChain struct {
	Index       int
	Destination string
	Effector    string
	Links       []string
	Iterations  int
	AngleStep   float32
	Valid       bool
	Active      bool
}

func boneName(s *pose.Skeleton, i int) string {
	if b := s.Bone(i); b != nil {
		return b.Name
	}
	return ""
}

func (s *Server) skeletonJson() []jsonBone {
	sk := s.model.Skeleton
	result := make([]jsonBone, sk.Len())
	for i := range result {
		result[i] = boneToJson(sk.Bone(i))
	}
	return result
}

func (s *Server) HandlerSkeleton(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webutils.WriteJson(w, s.skeletonJson())
}

func (s *Server) findBone(w http.ResponseWriter, r *http.Request) *pose.Bone {
	name := mux.Vars(r)["name"]
	b := s.model.Skeleton.FindBone(name)
	if b == nil {
		webutils.WriteErrorCode(w, http.StatusNotFound, errors.Errorf("Bone %q not found", name))
	}
	return b
}

func (s *Server) HandlerBone(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.findBone(w, r); b != nil {
		webutils.WriteJson(w, boneToJson(b))
	}
}

func (s *Server) HandlerChains(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := s.model.Skeleton
	result := make([]jsonChain, len(s.model.Chains))
	for i, c := range s.model.Chains {
		links := make([]string, len(c.Links))
		for j, l := range c.Links {
			links[j] = boneName(sk, l)
		}
		result[i] = jsonChain{
			Index:       i,
			Destination: boneName(sk, c.Destination),
			Effector:    boneName(sk, c.Effector),
			Links:       links,
			Iterations:  c.Iterations,
			AngleStep:   c.AngleStep,
			Valid:       c.IsValid(),
			Active:      c.IsActive(),
		}
	}
	webutils.WriteJson(w, result)
}

// HandlerBoneAction sets a local rotation (degrees, euler ZYX) or translation and
// reruns the pose pipeline for the current frame
func (s *Server) HandlerBoneAction(w http.ResponseWriter, r *http.Request) {
	var v struct{ X, Y, Z float32 }
	if err := webutils.ReadJson(r, &v); err != nil {
		webutils.WriteError(w, err)
		return
	}
	value := mgl32.Vec3{v.X, v.Y, v.Z}
	if !utils.IsFiniteV3(value) {
		webutils.WriteError(w, errors.Errorf("Value %v is not finite", value))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.findBone(w, r)
	if b == nil {
		return
	}
	sk := s.model.Skeleton
	switch mux.Vars(r)["action"] {
	case "rotate":
		sk.SetLocalRotation(b.Index, utils.EulerToQuat(utils.DegreeToRadiansV3(value)))
	case "move":
		sk.SetLocalTranslation(b.Index, value)
	}
	if err := s.update(0); err != nil {
		webutils.WriteError(w, err)
		return
	}
	webutils.WriteJson(w, boneToJson(b))
}

func (s *Server) HandlerScript(w http.ResponseWriter, r *http.Request) {
	text, err := webutils.ReadBody(r)
	if err != nil {
		webutils.WriteError(w, err)
		return
	}
	script, err := posescript.Parse(text)
	if err != nil {
		webutils.WriteError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion = script
	s.frame = 0
	if err := s.update(0); err != nil {
		s.motion = nil
		webutils.WriteError(w, err)
		return
	}
	status.Info("Loaded script with %d keyframes", len(script.Keyframes))
	webutils.WriteJson(w, map[string]interface{}{
		"Keyframes": len(script.Keyframes),
		"Length":    script.Length(),
		"Bones":     script.Bones(),
	})
}

func (s *Server) HandlerPhysics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		webutils.WriteError(w, errors.Errorf("Model has no physics"))
		return
	}
	var kinematic bool
	switch mode := mux.Vars(r)["mode"]; mode {
	case "kinematic":
		kinematic = true
	case "dynamic":
		kinematic = false
	default:
		webutils.WriteError(w, errors.Errorf("Unknown physics mode %q", mode))
		return
	}
	s.bridge.SetKinematic(s.model.Skeleton, kinematic)
	s.model.RefreshChains()
	webutils.WriteJson(w, map[string]interface{}{"Kinematic": s.bridge.IsKinematic(), "Bodies": s.bridge.Len()})
}

func (s *Server) HandlerDumpGLB(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	e := gltfexport.Export(s.model.Skeleton)
	name := s.model.Name
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := gltfexport.WriteBinary(&buf, e.Doc); err != nil {
		webutils.WriteErrorCode(w, http.StatusInternalServerError, err)
		return
	}
	webutils.WriteFile(w, &buf, name+".glb")
}

func (s *Server) HandlerDumpJSON(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webutils.WriteJsonFile(w, s.skeletonJson(), s.model.Name)
}

func (s *Server) HandlerRender(w http.ResponseWriter, r *http.Request) {
	view, err := render.ParseView(mux.Vars(r)["view"])
	if err != nil {
		webutils.WriteErrorCode(w, http.StatusNotFound, err)
		return
	}
	s.mu.Lock()
	img := render.Render(s.model.Skeleton, view, render.DefaultOptions())
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := render.EncodeWebP(&buf, img); err != nil {
		webutils.WriteErrorCode(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/webp")
	webutils.WriteResult(w, buf.Bytes())
}
