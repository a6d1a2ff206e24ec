package chat

import (
	"fmt"
	"strings"

	"github.com/andy6609/michat/internal/slab"
)

// Mode selects the application model.
type Mode string

const (
	// ModeBroadcast echoes every line to every client.
	ModeBroadcast Mode = "broadcast"
	// ModeKV treats a non-empty line as a set and an empty line as a get.
	ModeKV Mode = "kv"
)

// ParseMode accepts "broadcast" or "kv", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBroadcast, ModeKV:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) router() lineRouter {
	if m == ModeKV {
		return func(from slab.Token, line string) Command {
			if line == "" {
				return Get{Token: from}
			}
			return Set{Text: line}
		}
	}
	return func(_ slab.Token, line string) Command {
		return Broadcast{Text: line}
	}
}

// Config holds server settings. Zero fields take defaults.
type Config struct {
	Addr string
	Mode Mode
	// Worker runs the key/value model on its own goroutine.
	Worker bool

	QueueSize      int
	MaxEvents      int
	MaxDrainPasses int
	ReadBufferSize int
	Backoff        Backoff
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeBroadcast
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	if c.MaxDrainPasses <= 0 {
		c.MaxDrainPasses = 1024
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}
