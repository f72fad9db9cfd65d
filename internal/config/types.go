package config

// Config represents the complete gpucheckpoint configuration
type Config struct {
	Detection DetectionConfig `yaml:"detection"`
	Logging   LoggingConfig   `yaml:"logging"`
	Output    OutputConfig    `yaml:"output"`
}

// DetectionConfig represents detection pipeline configuration
type DetectionConfig struct {
	TimeoutMS int    `yaml:"timeout_ms"`
	ProcRoot  string `yaml:"proc_root"`
	// PeerScan is a pointer so an explicit false in an overlay file is
	// distinguishable from an omitted key.
	PeerScan        *bool             `yaml:"peer_scan"`
	MinAnonymousMB  int               `yaml:"min_anonymous_mb"`
	ExtraPatterns   []PatternConfig   `yaml:"extra_patterns"`
	ExtraIndicators []IndicatorConfig `yaml:"extra_indicators"`
}

// PatternConfig adds a GPU path pattern
type PatternConfig struct {
	Name    string `yaml:"name"`
	Class   string `yaml:"class"`
	Vendor  string `yaml:"vendor"`
	Pattern string `yaml:"pattern"`
}

// IndicatorConfig adds an environment indicator variable
type IndicatorConfig struct {
	Name          string   `yaml:"name"`
	Prefix        bool     `yaml:"prefix"`
	Category      string   `yaml:"category"`
	ValueContains []string `yaml:"value_contains"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives log events instead of stderr.
	File string `yaml:"file"`
}

// OutputConfig represents report rendering configuration
type OutputConfig struct {
	Format string `yaml:"format"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}
