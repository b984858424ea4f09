package main

import (
	"flag"
	"log"
	"os"

	"github.com/Pallinder/go-randomdata"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/utils"
)

type options struct {
	Seed     int64
	Rigs     int
	MaxLinks int
	Solves   int
	Verbose  bool
}

type report struct {
	Rigs             int
	Solves           int
	Converged        int
	NotFinite        int
	NotRestored      int
	ConstraintBroken int
}

func (r report) Failures() int {
	return r.NotFinite + r.NotRestored + r.ConstraintBroken
}

func randomUnit() float32 {
	return float32(randomdata.Number(-1000, 1000)) / 1000
}

func randomOffset() mgl32.Vec3 {
	dir := mgl32.Vec3{randomUnit(), randomUnit(), randomUnit()}
	if dir.Len() < 1e-3 {
		dir = mgl32.Vec3{0, -1, 0}
	}
	return dir.Normalize().Mul(float32(randomdata.Decimal(1, 10)))
}

// randomLimb builds root -> links... -> effector plus a destination root bone
func randomLimb(names *utils.RandomNameGenerator, links int) ([]pose.BoneDef, pose.IKDef) {
	defs := make([]pose.BoneDef, 0, links+2)
	var position mgl32.Vec3
	for i := 0; i <= links; i++ {
		name := names.RandomName()
		if i > 0 && i < links && randomdata.Boolean() {
			name += pose.KneeBoneName
		}
		defs = append(defs, pose.BoneDef{
			Name:     name,
			Parent:   i - 1,
			Child:    pose.NoBone,
			Target:   pose.NoBone,
			Position: position,
		})
		position = position.Add(randomOffset())
	}
	effector := len(defs) - 1
	defs = append(defs, pose.BoneDef{Name: names.RandomName(), Parent: pose.NoBone, Child: pose.NoBone, Target: pose.NoBone})

	ik := pose.IKDef{
		Destination: len(defs) - 1,
		Effector:    effector,
		Iterations:  randomdata.Number(5, 60),
		AngleStep:   mgl32.DegToRad(float32(randomdata.Decimal(1, 90))),
	}
	for i := effector - 1; i >= 0; i-- {
		ik.Links = append(ik.Links, i)
	}
	return defs, ik
}

func checkSolve(s *pose.Skeleton, c *pose.IKChain, r *report) {
	effector := s.Bone(c.Effector)
	before := effector.Rotation
	res := c.Solve(s)
	r.Solves++
	if res.Converged {
		r.Converged++
	}

	for i := 0; i < s.Len(); i++ {
		b := s.Bone(i)
		if !utils.IsFiniteQuat(b.Rotation) || !utils.IsFiniteV3(b.WorldPosition()) {
			r.NotFinite++
			log.Printf("bone %q pose is not finite: %v %v", b.Name, b.Rotation, b.WorldPosition())
			return
		}
	}
	if effector.Rotation != before {
		r.NotRestored++
		log.Printf("effector %q rotation %v, was %v", effector.Name, effector.Rotation, before)
	}
	for _, l := range c.Links {
		b := s.Bone(l)
		if !b.IsXAxisConstrained() {
			continue
		}
		if e := utils.QuatToEuler(b.Rotation); mgl32.Abs(e[1]) > 1e-3 || mgl32.Abs(e[2]) > 1e-3 {
			r.ConstraintBroken++
			log.Printf("knee %q left the x axis: %v", b.Name, e)
		}
	}
}

func stress(opt options) report {
	var names utils.RandomNameGenerator
	names.Seed(opt.Seed)

	var r report
	for i := 0; i < opt.Rigs; i++ {
		defs, ik := randomLimb(&names, randomdata.Number(1, opt.MaxLinks+1))
		m, err := pose.NewModel(defs[0].Name, defs, []pose.IKDef{ik})
		if err != nil {
			log.Fatalf("rig %d: %v", i, err)
		}
		r.Rigs++
		s := m.Skeleton
		c := m.Chains[0]
		if !c.IsActive() {
			log.Fatalf("rig %d: generated chain is invalid", i)
		}

		for j := 0; j < opt.Solves; j++ {
			dest := mgl32.Vec3{randomUnit(), randomUnit(), randomUnit()}.Mul(30)
			s.SetLocalTranslation(ik.Destination, dest)
			s.Propagate()
			checkSolve(s, c, &r)
		}
		if opt.Verbose {
			log.Printf("rig %s: %d links, %d/%d converged so far", m.Name, len(ik.Links), r.Converged, r.Solves)
		}
	}
	return r
}

func main() {
	var opt options
	flag.Int64Var(&opt.Seed, "seed", 1, "Random seed")
	flag.IntVar(&opt.Rigs, "rigs", 200, "Number of random limbs")
	flag.IntVar(&opt.MaxLinks, "links", 5, "Maximum links per chain")
	flag.IntVar(&opt.Solves, "solves", 50, "Solves per limb")
	flag.BoolVar(&opt.Verbose, "v", false, "Log every limb")
	flag.Parse()

	if opt.MaxLinks < 1 {
		log.Fatal("Need at least one link per chain")
	}

	r := stress(opt)
	log.Printf("%d rigs, %d solves, %d converged", r.Rigs, r.Solves, r.Converged)
	if r.Failures() != 0 {
		log.Printf("FAILED: %d not finite, %d not restored, %d knees off axis", r.NotFinite, r.NotRestored, r.ConstraintBroken)
		os.Exit(1)
	}
	log.Println("Complete !")
}
