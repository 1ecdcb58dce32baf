package engine

const defaultOutputMaxBytes int64 = 1 << 20

// Config controls the direct engine.
type Config struct {
	// HelperPath points at the exec-init binary. Empty runs commands directly.
	HelperPath     string `yaml:"helperPath"`
	CgroupRoot     string `yaml:"cgroupRoot"`
	EnableCgroup   bool   `yaml:"enableCgroup"`
	EnableSeccomp  bool   `yaml:"enableSeccomp"`
	SeccompProfile string `yaml:"seccompProfile"`
	OutputMaxBytes int64  `yaml:"outputMaxBytes"`
	// DisableNamespaces skips the pid and user namespaces even where the
	// host allows them. Timeouts then fall back to killing the process tree.
	DisableNamespaces bool `yaml:"disableNamespaces"`
}

// DockerConfig controls the sandboxed engine.
type DockerConfig struct {
	Host           string `yaml:"host"`
	PullImages     bool   `yaml:"pullImages"`
	TmpfsSize      string `yaml:"tmpfsSize"`
	OutputMaxBytes int64  `yaml:"outputMaxBytes"`
}
