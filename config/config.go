package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultTransportTimeout bounds every coordinator-to-participant call.
	DefaultTransportTimeout = 3 * time.Second
	// DefaultLockTimeout bounds account guard acquisition.
	DefaultLockTimeout = 3 * time.Second
	// DefaultCommitTimeout is how long a prepared participant waits for a
	// phase-two message before rolling back on its own. It must exceed the
	// transport timeout so a slow-but-live coordinator is not raced.
	DefaultCommitTimeout = 10 * time.Second
)

// Duration wraps time.Duration so config files can say "3s".
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON writes the duration back as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Participant is one account-owning node. The slice order in Config is the
// fixed global prepare/lock order used for deadlock avoidance.
type Participant struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Config is the cluster configuration shared by the coordinator and the
// participant nodes.
type Config struct {
	Participants     []Participant `json:"participants"`
	TransportTimeout Duration      `json:"transport_timeout"`
	LockTimeout      Duration      `json:"lock_timeout"`
	CommitTimeout    Duration      `json:"commit_timeout"`
}

// Default returns a config with default timeouts and no participants.
func Default() *Config {
	return &Config{
		TransportTimeout: Duration(DefaultTransportTimeout),
		LockTimeout:      Duration(DefaultLockTimeout),
		CommitTimeout:    Duration(DefaultCommitTimeout),
	}
}

// Load reads cluster configuration from a JSON file. Missing timeouts fall
// back to defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unable to parse config %s: %w", path, err)
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants the protocol depends on.
func (c *Config) Validate() error {
	if len(c.Participants) < 2 {
		return fmt.Errorf("config needs at least 2 participants, got %d", len(c.Participants))
	}
	seen := make(map[string]bool)
	for _, p := range c.Participants {
		if p.ID == "" || p.Address == "" {
			return fmt.Errorf("participant entry %+v is missing id or address", p)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate participant id %s", p.ID)
		}
		seen[p.ID] = true
	}
	if c.TransportTimeout <= 0 || c.LockTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.CommitTimeout <= c.TransportTimeout {
		return fmt.Errorf("commit_timeout (%s) must exceed transport_timeout (%s)",
			time.Duration(c.CommitTimeout), time.Duration(c.TransportTimeout))
	}
	return nil
}

// Index returns the participant's position in the fixed global order, or
// -1 if unknown.
func (c *Config) Index(id string) int {
	for i, p := range c.Participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Lookup returns the participant entry for an id.
func (c *Config) Lookup(id string) (Participant, bool) {
	if i := c.Index(id); i >= 0 {
		return c.Participants[i], true
	}
	return Participant{}, false
}
