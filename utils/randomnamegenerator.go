package utils

import (
	"math/rand"

	"github.com/Pallinder/go-randomdata"
)

// RandomNameGenerator hands out unique silly names, deterministic for a given seed
type RandomNameGenerator map[string]struct{}

func (rng *RandomNameGenerator) Seed(seed int64) {
	*rng = make(map[string]struct{})
	randomdata.CustomRand(rand.New(rand.NewSource(seed)))
}

func (rng *RandomNameGenerator) RandomName() string {
	if *rng == nil {
		rng.Seed(0)
	}
	for {
		name := randomdata.SillyName()
		// avoid duplicate names
		if _, exists := (*rng)[name]; !exists {
			(*rng)[name] = struct{}{}
			return name
		}
	}
}
