package clientcache

import (
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stephnangue/azgraph/auth"
)

const (
	tierCredential = "credential"
	tierClient     = "client"
)

const (
	eventHit            = "hits"
	eventMiss           = "misses"
	eventBuild          = "builds"
	eventBuildFailure   = "build_failures"
	eventCoalesced      = "coalesced"
	eventEviction       = "evictions"
	eventCeiling        = "ceiling_expirations"
	eventDisposeFailure = "dispose_failures"
)

// Metrics tracks cache activity. Every increment is mirrored to go-metrics
// under clientcache.<tier>.<event> labelled with the auth mode.
type Metrics struct {
	mu       sync.RWMutex
	mode     auth.Mode
	counters map[string]int64
}

func newMetrics(mode auth.Mode) *Metrics {
	return &Metrics{mode: mode, counters: make(map[string]int64)}
}

func (m *Metrics) increment(tier, event string) {
	m.mu.Lock()
	m.counters[tier+"_"+event]++
	m.mu.Unlock()

	metrics.IncrCounterWithLabels([]string{"clientcache", tier, event}, 1,
		[]metrics.Label{{Name: "auth_mode", Value: string(m.mode)}})
}

// Get returns a single counter, e.g. Get("client", "hits").
func (m *Metrics) Get(tier, event string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[tier+"_"+event]
}

// GetSnapshot returns a copy of all counters keyed tier_event.
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// TierStats describes one tier.
type TierStats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	Pending     int64         `json:"pending"`
	SlidingTTL  time.Duration `json:"sliding_ttl"`
	AbsoluteTTL time.Duration `json:"absolute_ttl,omitempty"`
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	Mode        auth.Mode        `json:"mode"`
	Clients     TierStats        `json:"clients"`
	Credentials TierStats        `json:"credentials"`
	Counters    map[string]int64 `json:"counters"`
}
