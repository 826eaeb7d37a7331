package governor

import "sync"

// Snapshot is the reporting contract: the only governor state a consumer
// may read. The JSON shape is stable — offline summarizers depend on it.
type Snapshot struct {
	Counters CountersSection `json:"counters"`
	Governor GovernorSection `json:"governor"`
}

// CountersSection holds the per-channel send and skip tallies.
type CountersSection struct {
	SentByChannel   map[string]int64 `json:"sentByChannel"`
	SkippedByReason map[string]int64 `json:"skippedByReason"`
}

// GovernorSection holds the denial tallies.
type GovernorSection struct {
	Blocked         int64            `json:"blocked"`
	BlockedByReason map[string]int64 `json:"blockedByReason"`
}

// counters accumulates write-once-per-event, read-many tallies. It has its
// own lock so snapshot reads never contend with admission decisions.
type counters struct {
	mu              sync.Mutex
	sentByChannel   map[string]int64
	skippedByReason map[string]int64
	blocked         int64
	blockedByReason map[string]int64
}

func newCounters() counters {
	return counters{
		sentByChannel:   make(map[string]int64),
		skippedByReason: make(map[string]int64),
		blockedByReason: make(map[string]int64),
	}
}

func (c *counters) recordSent(channel string) {
	c.mu.Lock()
	c.sentByChannel[channel]++
	c.mu.Unlock()
}

func (c *counters) recordSkip(reason string) {
	c.mu.Lock()
	c.skippedByReason[reason]++
	c.mu.Unlock()
}

func (c *counters) recordBlock(reason string) {
	c.mu.Lock()
	c.blocked++
	c.blockedByReason[reason]++
	c.mu.Unlock()
}

func (c *counters) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Counters: CountersSection{
			SentByChannel:   copyMap(c.sentByChannel),
			SkippedByReason: copyMap(c.skippedByReason),
		},
		Governor: GovernorSection{
			Blocked:         c.blocked,
			BlockedByReason: copyMap(c.blockedByReason),
		},
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
