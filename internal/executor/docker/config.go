package docker

import (
	"time"
)

// Config holds the configuration for the Docker runtime adapter.
type Config struct {
	// Image is checked (and pulled if missing) when the adapter starts.
	Image string
	// PullImage enables the startup image check.
	PullImage bool
	// PullTimeout bounds the startup pull.
	PullTimeout time.Duration
	// Tty allocates a terminal, so logs come back as one raw stream.
	Tty bool
	// ManagedLabel marks every container this service starts. Prune, List
	// and therefore admin reset only ever see containers carrying it.
	ManagedLabel string
}

// DefaultConfig matches the codegolf sandbox image.
func DefaultConfig() Config {
	return Config{
		Image:        "sh3llcod3/codegolf-box",
		PullImage:    true,
		PullTimeout:  2 * time.Minute,
		Tty:          true,
		ManagedLabel: "code-ingest.managed",
	}
}
