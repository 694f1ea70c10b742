package coordinator

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twopc-transfer/common"
	"github.com/twopc-transfer/config"
	"github.com/twopc-transfer/metric"
)

// Transaction captures one transfer as driven by the coordinator. It is
// owned exclusively by the coordinator for its lifetime.
type Transaction struct {
	ID     string
	From   string
	To     string
	Amount int64
	State  common.TxState
	Votes  map[string]common.Vote
}

// Coordinator drives the two-phase exchange across participants.
// Transfers touching disjoint participant sets run concurrently;
// overlapping ones serialize on per-participant slots, always acquired in
// the fixed global order from the config so no cycle of waiters can form.
type Coordinator struct {
	cfg     *config.Config
	log     *log.Entry
	metrics *metric.Metrics

	remotes map[string]*remote
	slots   map[string]*sync.Mutex
}

// New initialises a coordinator for the configured participant set.
// metrics may be nil.
func New(logger *log.Logger, cfg *config.Config, metrics *metric.Metrics) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := logger.WithField("component", "coordinator")
	c := &Coordinator{
		cfg:     cfg,
		log:     l,
		metrics: metrics,
		remotes: make(map[string]*remote),
		slots:   make(map[string]*sync.Mutex),
	}
	for _, p := range cfg.Participants {
		c.remotes[p.ID] = newRemote(l, p.ID, p.Address, time.Duration(cfg.TransportTimeout))
		c.slots[p.ID] = &sync.Mutex{}
	}
	return c, nil
}

// Participants returns the configured participants in the fixed global
// order.
func (c *Coordinator) Participants() []config.Participant {
	return c.cfg.Participants
}

// ordered returns the transfer's two participants in the fixed global
// order. Every transfer prepares and locks in this order.
func (c *Coordinator) ordered(from, to string) []config.Participant {
	out := make([]config.Participant, 0, 2)
	for _, p := range c.cfg.Participants {
		if p.ID == from || p.ID == to {
			out = append(out, p)
		}
	}
	return out
}

// acquireSlots admits a transaction: its prepare on a participant is not
// issued until every earlier transaction touching that participant has
// reached a terminal state.
func (c *Coordinator) acquireSlots(parts []config.Participant) {
	for _, p := range parts {
		c.slots[p.ID].Lock()
	}
}

func (c *Coordinator) releaseSlots(parts []config.Participant) {
	for _, p := range parts {
		c.slots[p.ID].Unlock()
	}
}
