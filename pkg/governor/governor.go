// Package governor implements client-side admission control for outbound
// replies: per-channel hourly budgets, per-conversation cooldowns, and
// duplicate/style suppression against rolling windows of recent output.
// It is the local mirror of the server's rate limits — both must hold.
//
// State is process-local by design. Each channel's budget/cooldown state
// carries its own lock so unrelated channels never serialize; the global
// duplicate window and the counters have separate locks. A multi-process
// deployment would move budget and cooldown rows into a shared store with
// compare-and-swap updates.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kozmos-labs/axy/pkg/classify"
	"github.com/kozmos-labs/axy/pkg/textsim"
)

// Reason is a categorical admission denial.
type Reason string

const (
	ReasonHourlyBudget    Reason = "hourly-budget"
	ReasonCooldown        Reason = "cooldown"
	ReasonDuplicateLocal  Reason = "duplicate-local"
	ReasonDuplicateGlobal Reason = "duplicate-global"
	ReasonStyleRepeat     Reason = "style-repeat"
)

// Config holds the deployment-tunable admission parameters.
type Config struct {
	// HourlyCap is the per-channel send budget within one hour window.
	HourlyCap int
	// MinGap is the minimum spacing between sends on one conversation key.
	MinGap time.Duration
	// LocalWindow bounds the per-channel recent-reply window.
	LocalWindow int
	// GlobalWindow bounds the cross-channel recent-reply window. It is
	// larger than the local window: local catches immediate repetition,
	// global catches longer-range repetition.
	GlobalWindow int
	// DuplicateThreshold is the Jaccard cutoff for near-duplicates.
	DuplicateThreshold float64
	// FormulaicPhrases extends the built-in stock-phrase list for the
	// style-repeat check.
	FormulaicPhrases []string
}

// DefaultConfig returns conservative admission defaults.
func DefaultConfig() Config {
	return Config{
		HourlyCap:          6,
		MinGap:             90 * time.Second,
		LocalWindow:        8,
		GlobalWindow:       50,
		DuplicateThreshold: textsim.DefaultThreshold,
	}
}

// Archive is an optional long-range duplicate lookup backing the global
// window (see pkg/semdup). Lookup failures degrade to the in-memory
// window; they never block admission.
type Archive interface {
	IsSemanticDuplicate(ctx context.Context, text string) (bool, error)
}

// Decision is the outcome of one admission request.
type Decision struct {
	Allowed bool
	// Reason is set when the request was denied.
	Reason Reason
	// DuplicateScore is the highest similarity observed against the
	// windows that denied a duplicate request. Diagnostic only.
	DuplicateScore float64
}

type reply struct {
	text string
	at   time.Time
}

// channelState holds one channel's budget, cooldown and local window.
// Each instance has its own lock.
type channelState struct {
	mu          sync.Mutex
	windowStart time.Time
	sentCount   int
	lastSentAt  map[string]time.Time
	recent      []reply
}

// Governor admits or blocks candidate replies and tracks the outcome
// counters consumed by reporting.
type Governor struct {
	cfg     Config
	archive Archive
	now     func() time.Time

	mu       sync.Mutex
	channels map[classify.Channel]*channelState

	globalMu sync.Mutex
	global   []reply

	counters counters
}

// New creates a Governor. Zero or negative Config fields fall back to
// DefaultConfig values.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.HourlyCap <= 0 {
		cfg.HourlyCap = def.HourlyCap
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = def.MinGap
	}
	if cfg.LocalWindow <= 0 {
		cfg.LocalWindow = def.LocalWindow
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = def.GlobalWindow
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	return &Governor{
		cfg:      cfg,
		now:      time.Now,
		channels: make(map[classify.Channel]*channelState),
		counters: newCounters(),
	}
}

// AttachArchive wires the optional semantic duplicate archive into the
// global-window check. Must be called before the first admission.
func (g *Governor) AttachArchive(a Archive) { g.archive = a }

// Seed preloads a channel's local window and the global window with
// previously sent texts, oldest first. Used after a restart to restore
// duplicate suppression from the journal. Budget and cooldown state are
// deliberately left untouched.
func (g *Governor) Seed(ch classify.Channel, texts []string) {
	if len(texts) == 0 {
		return
	}
	at := g.now()
	cs := g.channelFor(ch)
	cs.mu.Lock()
	for _, t := range texts {
		cs.recent = appendBounded(cs.recent, reply{text: t, at: at}, g.cfg.LocalWindow)
	}
	cs.mu.Unlock()

	g.globalMu.Lock()
	for _, t := range texts {
		g.global = appendBounded(g.global, reply{text: t, at: at}, g.cfg.GlobalWindow)
	}
	g.globalMu.Unlock()
}

// channelFor returns the state for a channel, creating it on first use.
func (g *Governor) channelFor(ch classify.Channel) *channelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs, ok := g.channels[ch]
	if !ok {
		cs = &channelState{lastSentAt: make(map[string]time.Time)}
		g.channels[ch] = cs
	}
	return cs
}

// Admit decides whether a candidate reply may be sent on the given channel
// and conversation key. Checks run in a fixed order — hourly budget,
// cooldown, local duplicate, global duplicate, style repeat — and the
// first failure is the block reason. A passing request atomically updates
// budget, cooldown and both recent-reply windows.
func (g *Governor) Admit(ctx context.Context, ch classify.Channel, key, candidate string) Decision {
	now := g.now()
	cs := g.channelFor(ch)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// (1) Hourly budget, rolling forward lazily. The window is the
	// wall-clock hour containing now; no catch-up across missed windows.
	hour := now.Truncate(time.Hour)
	if !hour.Equal(cs.windowStart) {
		cs.windowStart = hour
		cs.sentCount = 0
	}
	if cs.sentCount >= g.cfg.HourlyCap {
		return g.block(ch, ReasonHourlyBudget, Decision{Reason: ReasonHourlyBudget})
	}

	// (2) Cooldown on the conversation key.
	if last, ok := cs.lastSentAt[key]; ok && now.Sub(last) < g.cfg.MinGap {
		return g.block(ch, ReasonCooldown, Decision{Reason: ReasonCooldown})
	}

	dupOpts := textsim.Options{Threshold: g.cfg.DuplicateThreshold}

	// (3) Local window duplicate.
	local := replyTexts(cs.recent)
	if textsim.IsNearDuplicate(candidate, local, dupOpts) {
		return g.block(ch, ReasonDuplicateLocal, Decision{
			Reason:         ReasonDuplicateLocal,
			DuplicateScore: textsim.MaxDuplicateScore(candidate, local),
		})
	}

	// (4) Global window duplicate, optionally extended by the semantic
	// archive for repetition beyond the in-memory window.
	g.globalMu.Lock()
	global := replyTexts(g.global)
	g.globalMu.Unlock()
	if textsim.IsNearDuplicate(candidate, global, dupOpts) {
		return g.block(ch, ReasonDuplicateGlobal, Decision{
			Reason:         ReasonDuplicateGlobal,
			DuplicateScore: textsim.MaxDuplicateScore(candidate, global),
		})
	}
	if g.archive != nil {
		dup, err := g.archive.IsSemanticDuplicate(ctx, candidate)
		if err != nil {
			slog.Warn("semantic duplicate lookup failed, using in-memory window only", "error", err)
		} else if dup {
			return g.block(ch, ReasonDuplicateGlobal, Decision{Reason: ReasonDuplicateGlobal})
		}
	}

	// (5) Style repeat. Steps 3 and 4 already cleared the containment and
	// Jaccard tiers, so any hit here is the formulaic tier.
	styleOpts := textsim.Options{
		Threshold:        g.cfg.DuplicateThreshold,
		FormulaicGuard:   true,
		FormulaicPhrases: g.cfg.FormulaicPhrases,
	}
	if textsim.IsNearDuplicate(candidate, global, styleOpts) || textsim.IsNearDuplicate(candidate, local, styleOpts) {
		return g.block(ch, ReasonStyleRepeat, Decision{Reason: ReasonStyleRepeat})
	}

	// Admitted: budget, cooldown, both windows, counters.
	cs.sentCount++
	cs.lastSentAt[key] = now
	cs.recent = appendBounded(cs.recent, reply{text: candidate, at: now}, g.cfg.LocalWindow)

	g.globalMu.Lock()
	g.global = appendBounded(g.global, reply{text: candidate, at: now}, g.cfg.GlobalWindow)
	g.globalMu.Unlock()

	g.counters.recordSent(string(ch))
	return Decision{Allowed: true}
}

// Skip counts a message for which no candidate was ever generated (e.g.
// unknown intent on a low-initiative channel, empty generator output).
// Skips and blocks are distinct categories.
func (g *Governor) Skip(reason string) {
	g.counters.recordSkip(reason)
}

// Snapshot returns an immutable copy of the cumulative counters. It takes
// only the counters lock, never the admission locks.
func (g *Governor) Snapshot() Snapshot {
	return g.counters.snapshot()
}

// block records a denial and returns the decision.
func (g *Governor) block(ch classify.Channel, reason Reason, d Decision) Decision {
	g.counters.recordBlock(string(reason))
	slog.Debug("candidate blocked", "channel", ch, "reason", reason, "score", d.DuplicateScore)
	return d
}

func replyTexts(rs []reply) []string {
	texts := make([]string, len(rs))
	for i, r := range rs {
		texts[i] = r.text
	}
	return texts
}

func appendBounded(rs []reply, r reply, bound int) []reply {
	rs = append(rs, r)
	if len(rs) > bound {
		rs = rs[len(rs)-bound:]
	}
	return rs
}
