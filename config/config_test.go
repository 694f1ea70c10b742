package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.json")
	body := `{
	  "participants": [
	    {"id": "sender", "address": "localhost:5001"},
	    {"id": "receiver", "address": "localhost:5002"}
	  ],
	  "transport_timeout": "250ms",
	  "commit_timeout": "2s"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	expected := &Config{
		Participants: []Participant{
			{ID: "sender", Address: "localhost:5001"},
			{ID: "receiver", Address: "localhost:5002"},
		},
		TransportTimeout: Duration(250 * time.Millisecond),
		LockTimeout:      Duration(DefaultLockTimeout),
		CommitTimeout:    Duration(2 * time.Second),
	}
	assert.Truef(t, cmp.Equal(expected, cfg), "Expected %+v but got %+v", expected, cfg)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Participants = []Participant{
			{ID: "a", Address: "localhost:5001"},
			{ID: "b", Address: "localhost:5002"},
		}
		return c
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Participants = c.Participants[:1]
	assert.Error(t, c.Validate(), "two participants are required")

	c = base()
	c.Participants[1].ID = "a"
	assert.Error(t, c.Validate(), "duplicate ids are rejected")

	c = base()
	c.Participants[0].Address = ""
	assert.Error(t, c.Validate())

	// the commit timeout must leave room for a slow-but-live coordinator
	c = base()
	c.CommitTimeout = c.TransportTimeout
	assert.Error(t, c.Validate())
}

func TestIndexIsGlobalOrder(t *testing.T) {
	c := Default()
	c.Participants = []Participant{
		{ID: "a", Address: "x"},
		{ID: "b", Address: "y"},
	}
	assert.Equal(t, 0, c.Index("a"))
	assert.Equal(t, 1, c.Index("b"))
	assert.Equal(t, -1, c.Index("z"))

	p, ok := c.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, "y", p.Address)
}
