package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Settings are engine defaults taken from the environment, command line flags override them
type Settings struct {
	Addr     string  `env:"MMDPOSE_ADDR" envDefault:":8000"`
	Rig      string  `env:"MMDPOSE_RIG"`
	Script   string  `env:"MMDPOSE_SCRIPT"`
	Encoding string  `env:"MMDPOSE_ENCODING" envDefault:"Shift JIS"`
	RecordDB string  `env:"MMDPOSE_RECORD_DB"`
	FPS      float32 `env:"MMDPOSE_FPS" envDefault:"30"`
}

func ParseEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, errors.Wrapf(err, "Failed to parse environment")
	}
	if s.FPS <= 0 {
		return Settings{}, errors.Errorf("MMDPOSE_FPS must be positive, got %v", s.FPS)
	}
	return s, nil
}
