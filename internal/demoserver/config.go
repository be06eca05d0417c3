package demoserver

// Config holds configuration for the demo portal.
type Config struct {
	// Port is the port on which the demo portal listens.
	Port int

	// InitialVersion is the starting listing version (default: 1).
	InitialVersion int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           9999,
		InitialVersion: 1,
	}
}
