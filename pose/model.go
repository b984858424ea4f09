package pose

import (
	"log"

	"github.com/pkg/errors"
)

// Motion writes local rotations and translations of animated bones for a frame
type Motion interface {
	Apply(s *Skeleton, frame float32) error
}

// Physics bridges a rigid body simulation. Drive feeds bone poses to kinematic bodies,
// Apply writes simulated bodies back into bones.
type Physics interface {
	Drive(s *Skeleton)
	Step(dt float32)
	Apply(s *Skeleton)
}

type FrameStats struct {
	Frame         float32
	ChainsSolved  int
	ChainsSkipped int
	Converged     int
	Iterations    int
}

// Model runs the per frame pose pipeline. It is not safe for concurrent use.
type Model struct {
	Name     string
	Skeleton *Skeleton
	// solved in declaration order, chains sharing a link see each other's result in that order
	Chains  []*IKChain
	Physics Physics

	DisableIK bool
}

// NewModel rejects a skeleton with a cyclic hierarchy, invalid IK chains are kept inactive
func NewModel(name string, bones []BoneDef, iks []IKDef) (*Model, error) {
	s, err := NewSkeleton(bones)
	if err != nil {
		return nil, errors.Wrapf(err, "Model %q", name)
	}
	m := &Model{
		Name:     name,
		Skeleton: s,
		Chains:   make([]*IKChain, 0, len(iks)),
	}
	for i, def := range iks {
		c, err := NewIKChain(s, def)
		if err != nil {
			log.Printf("[pose] %s: ik chain %d disabled: %v", name, i, err)
		}
		m.Chains = append(m.Chains, c)
	}
	return m, nil
}

// RefreshChains deactivates chains whose effector is owned by physics and
// reactivates them once physics releases it
func (m *Model) RefreshChains() {
	for _, c := range m.Chains {
		if c.IsValid() {
			c.SetActive(!m.Skeleton.bones[c.Effector].simulated)
		}
	}
}

func (m *Model) SolveIK(stats *FrameStats) {
	for _, c := range m.Chains {
		r := c.Solve(m.Skeleton)
		if r.Skipped {
			stats.ChainsSkipped++
			continue
		}
		stats.ChainsSolved++
		stats.Iterations += r.Iterations
		if r.Converged {
			stats.Converged++
		}
	}
}

// Update advances the pose to frame: motion, propagation, IK, physics, secondary rotations.
// Skin transforms are valid after it returns.
func (m *Model) Update(motion Motion, frame, dt float32) (FrameStats, error) {
	stats := FrameStats{Frame: frame}
	s := m.Skeleton

	if motion != nil {
		if err := motion.Apply(s, frame); err != nil {
			return stats, errors.Wrapf(err, "Failed to apply motion at frame %v", frame)
		}
	}

	s.Propagate()
	if !m.DisableIK {
		m.SolveIK(&stats)
		// bones hanging off solved links
		s.Propagate()
	}

	if m.Physics != nil {
		m.Physics.Drive(s)
		m.Physics.Step(dt)
		m.Physics.Apply(s)
	}

	s.UpdateSecondary()
	return stats, nil
}
