package engine

import (
	"time"

	"codexec/internal/sandbox/limits"
	"codexec/internal/sandbox/security"
)

// Config controls sandbox engine behavior.
type Config struct {
	HelperPath string `yaml:"helperPath"`
	CgroupRoot string `yaml:"cgroupRoot"`
	// WallTimeout bounds real time per execution. Zero uses the CPU ceiling.
	WallTimeout time.Duration `yaml:"wallTimeout"`
	// MaxOutputBytes bounds what is read from the helper's stdout.
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
	// MaxResultBytes bounds the encoded result inside the helper.
	MaxResultBytes   int                       `yaml:"maxResultBytes"`
	Limits           limits.ResourceLimits     `yaml:"limits"`
	Isolation        security.IsolationProfile `yaml:"isolation"`
	EnableSeccomp    bool                      `yaml:"enableSeccomp"`
	EnableCgroup     bool                      `yaml:"enableCgroup"`
	EnableNamespaces bool                      `yaml:"enableNamespaces"`
}

const (
	defaultHelperPath           = "sandbox-init"
	defaultMaxResultBytes       = 1 << 20
	defaultStderrMaxBytes int64 = 64 * 1024
)

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.HelperPath == "" {
		c.HelperPath = defaultHelperPath
	}
	c.Limits = c.Limits.WithDefaults()
	if c.WallTimeout <= 0 {
		c.WallTimeout = c.Limits.CPUTime
	}
	if c.MaxResultBytes <= 0 {
		c.MaxResultBytes = defaultMaxResultBytes
	}
	if c.MaxOutputBytes <= 0 {
		// Leave room for the outcome envelope around the result.
		c.MaxOutputBytes = int64(c.MaxResultBytes) + 64*1024
	}
	return c
}
