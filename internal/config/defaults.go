package config

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	peerScan := true
	return Config{
		Detection: DetectionConfig{
			TimeoutMS:      5000,
			ProcRoot:       "/proc",
			PeerScan:       &peerScan,
			MinAnonymousMB: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}
