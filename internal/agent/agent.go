// Package agent runs the Axy reply agent: claim an identity, keep it
// alive with heartbeats, poll the shared feed, and answer triggered
// messages subject to governor admission.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kozmos-labs/axy/internal/journal"
	"github.com/kozmos-labs/axy/internal/kozmos"
	"github.com/kozmos-labs/axy/internal/llm"
	"github.com/kozmos-labs/axy/internal/notify"
	"github.com/kozmos-labs/axy/pkg/classify"
	"github.com/kozmos-labs/axy/pkg/governor"
	"github.com/kozmos-labs/axy/pkg/semdup"
	"github.com/kozmos-labs/axy/pkg/textsim"
)

// Skip reasons recorded by the loop before a candidate is ever generated.
const (
	skipOwnMessage     = "own-message"
	skipEmptyEntry     = "empty-entry"
	skipNoTrigger      = "no-trigger"
	skipLowInitiative  = "low-initiative"
	skipEmptyReply     = "empty-reply"
	skipDispatchReject = "dispatch-rejected"
)

// Agent owns the process lifecycle of one claimed identity.
type Agent struct {
	cfg      *Config
	client   *kozmos.Client
	provider llm.Provider
	gov      *governor.Governor

	// Optional collaborators, wired by main before Run.
	Journal  *journal.Journal
	Archive  *semdup.Archive
	Notifier *notify.Notifier

	identity *kozmos.Identity
	trigger  *regexp.Regexp
	seen     *seenSet
	cursor   string

	// Set by the heartbeat task on a 401; consumed by the poll loop so
	// shutdown always goes through one place.
	authLost atomic.Bool
}

// New creates an agent. The optional collaborator fields may be set on
// the returned value before Run.
func New(cfg *Config, client *kozmos.Client, provider llm.Provider, gov *governor.Governor) *Agent {
	return &Agent{
		cfg:      cfg,
		client:   client,
		provider: provider,
		gov:      gov,
		seen:     newSeenSet(cfg.SeenCap),
	}
}

// Claim exchanges the invite code for a bearer token and builds the
// trigger pattern from the claimed handle.
func (a *Agent) Claim(ctx context.Context) error {
	identity, err := a.client.Claim(ctx, a.cfg.InviteCode)
	if err != nil {
		return fmt.Errorf("claim identity: %w", err)
	}
	a.identity = identity

	// The trigger is always case-insensitive and always answers the
	// literal word "axy", whether derived from the handle or overridden.
	pattern := fmt.Sprintf(`(?i)\b(%s|axy)\b`, regexp.QuoteMeta(identity.User.Username))
	if a.cfg.TriggerPattern != "" {
		pattern = fmt.Sprintf(`(?i)(%s|\baxy\b)`, a.cfg.TriggerPattern)
	}
	trigger, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile trigger pattern %q: %w", pattern, err)
	}
	a.trigger = trigger

	// First poll reaches back over the lookback window; re-delivered
	// entries are absorbed by the seen set.
	lookback := duration(a.cfg.Lookback, 10*time.Minute)
	a.cursor = time.Now().Add(-lookback).UTC().Format(time.RFC3339)

	// Restore duplicate suppression from the journal so a restart does
	// not repeat what was said just before it.
	if a.Journal != nil {
		window := a.cfg.Governor.GlobalWindow
		if window <= 0 {
			window = governor.DefaultConfig().GlobalWindow
		}
		recent, err := a.Journal.RecentSent(window)
		if err != nil {
			slog.Warn("journal window restore failed", "error", err)
		} else if len(recent) > 0 {
			// RecentSent is newest first; Seed wants oldest first so
			// bounded windows keep the newest replies.
			for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
				recent[i], recent[j] = recent[j], recent[i]
			}
			a.gov.Seed(classify.ChannelFeed, recent)
			slog.Info("restored duplicate windows", "entries", len(recent))
		}
	}

	slog.Info("identity claimed",
		"user", identity.User.Username,
		"id", identity.User.ID,
		"trigger", pattern,
	)
	return nil
}

// Run starts the heartbeat, stats flush and poll loop, and blocks until
// the context is cancelled or an authorization failure makes the agent
// unrecoverable. Claim must have succeeded first.
func (a *Agent) Run(ctx context.Context) error {
	if a.identity == nil {
		return errors.New("run before claim")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Notifier.Notify(ctx, fmt.Sprintf("axy online as %s", a.identity.User.Username))

	go a.heartbeatLoop(ctx)
	go a.statsLoop(ctx)

	err := a.pollLoop(ctx)

	a.flushStats()
	if err != nil {
		a.Notifier.Notify(context.Background(), fmt.Sprintf("axy terminating: %v", err))
	}
	return err
}

// heartbeatLoop posts liveness at a fixed interval. Transient failures
// are logged and retried next tick; a 401 flags auth loss for the poll
// loop instead of shutting down here.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := duration(a.cfg.HeartbeatInterval, 25*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.Heartbeat(ctx); err != nil {
				if errors.Is(err, kozmos.ErrUnauthorized) {
					slog.Error("heartbeat unauthorized, flagging auth loss")
					a.authLost.Store(true)
					return
				}
				slog.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// statsLoop periodically writes the governor counter snapshot for the
// offline reporter.
func (a *Agent) statsLoop(ctx context.Context) {
	if a.cfg.StatsPath == "" {
		return
	}
	interval := duration(a.cfg.StatsInterval, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flushStats()
		}
	}
}

func (a *Agent) flushStats() {
	if a.cfg.StatsPath == "" {
		return
	}
	data, err := json.MarshalIndent(a.gov.Snapshot(), "", "  ")
	if err != nil {
		slog.Warn("stats marshal failed", "error", err)
		return
	}
	if err := os.WriteFile(a.cfg.StatsPath, data, 0o644); err != nil {
		slog.Warn("stats write failed", "path", a.cfg.StatsPath, "error", err)
	}
}

// pollLoop consumes the feed cursor-forward. Transport errors sleep one
// interval and retry; an authorization error terminates the agent.
func (a *Agent) pollLoop(ctx context.Context) error {
	interval := duration(a.cfg.PollInterval, 5*time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if a.authLost.Load() {
			return fmt.Errorf("token revoked: %w", kozmos.ErrUnauthorized)
		}

		page, err := a.client.Feed(ctx, a.cursor, a.cfg.PageSize)
		if err != nil {
			if errors.Is(err, kozmos.ErrUnauthorized) {
				return fmt.Errorf("feed poll: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("feed poll failed", "error", err)
			sleep(ctx, interval)
			continue
		}

		for _, entry := range page.Entries {
			if a.seen.contains(entry.ID) {
				continue
			}
			a.seen.add(entry.ID)
			a.processEntry(ctx, entry)
			if a.authLost.Load() {
				return fmt.Errorf("token revoked: %w", kozmos.ErrUnauthorized)
			}
		}

		if page.NextCursor != "" {
			a.cursor = page.NextCursor
		} else if n := len(page.Entries); n > 0 {
			a.cursor = page.Entries[n-1].CreatedAt.UTC().Format(time.RFC3339)
		}

		sleep(ctx, interval)
	}
}

// processEntry runs one feed entry through trigger, classification,
// generation, admission and dispatch.
func (a *Agent) processEntry(ctx context.Context, entry kozmos.FeedEntry) {
	if entry.UserID == a.identity.User.ID {
		a.skip(classify.ChannelFeed, skipOwnMessage)
		return
	}
	content := strings.TrimSpace(entry.Content)
	if content == "" {
		a.skip(classify.ChannelFeed, skipEmptyEntry)
		return
	}
	if !a.cfg.ReplyToAll && !a.trigger.MatchString(content) {
		a.skip(classify.ChannelFeed, skipNoTrigger)
		return
	}

	channel := classify.ChannelFeed
	intent := classify.DetectIntent(content)
	policy := classify.PolicyFor(channel)

	if intent == classify.IntentUnknown && policy.Initiative == classify.InitiativeLow {
		a.skip(channel, skipLowInitiative)
		return
	}

	candidate, err := a.generate(ctx, entry, intent, policy)
	if err != nil {
		slog.Warn("reply generation failed", "entry", entry.ID, "error", err)
		return
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		a.skip(channel, skipEmptyReply)
		return
	}
	candidate = clamp(candidate, policy.MaxChars)
	if policy.AllowsFollowQuestion {
		candidate = textsim.EnsureQuestionPunctuation(candidate)
	}

	decision := a.gov.Admit(ctx, channel, entry.UserID, candidate)
	if !decision.Allowed {
		slog.Info("reply blocked",
			"entry", entry.ID,
			"reason", decision.Reason,
			"score", decision.DuplicateScore,
		)
		if a.Journal != nil {
			if err := a.Journal.RecordBlocked(string(channel), string(decision.Reason), candidate); err != nil {
				slog.Warn("journal write failed", "error", err)
			}
		}
		return
	}

	if err := a.client.Post(ctx, candidate); err != nil {
		if errors.Is(err, kozmos.ErrUnauthorized) {
			a.authLost.Store(true)
			return
		}
		if kozmos.IsRejection(err) {
			slog.Warn("dispatch rejected", "entry", entry.ID, "error", err)
			a.skip(channel, skipDispatchReject)
			return
		}
		slog.Warn("dispatch failed", "entry", entry.ID, "error", err)
		return
	}

	slog.Info("reply sent",
		"entry", entry.ID,
		"channel", channel,
		"intent", intent,
		"len", len(candidate),
	)
	if a.Journal != nil {
		if err := a.Journal.RecordSent(string(channel), candidate); err != nil {
			slog.Warn("journal write failed", "error", err)
		}
	}
	if a.Archive != nil {
		a.Archive.Record(ctx, string(channel), candidate, time.Now())
	}
}

// generate asks the provider for a candidate reply shaped by the channel
// policy and detected intent.
func (a *Agent) generate(ctx context.Context, entry kozmos.FeedEntry, intent classify.Intent, policy classify.Policy) (string, error) {
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		System:      a.systemPrompt(intent, policy),
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf("%s wrote: %s", entry.Username, entry.Content)}},
		MaxTokens:   a.cfg.LLM.MaxOutput,
		Temperature: a.cfg.LLM.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

var intentGuidance = map[classify.Intent]string{
	classify.IntentGreet:      "Greet back briefly and warmly.",
	classify.IntentStatus:     "Say what you are currently up to, concretely.",
	classify.IntentExplain:    "Explain the thing asked about in plain terms.",
	classify.IntentStrategy:   "Give one practical suggestion, not a list.",
	classify.IntentReflective: "Respond thoughtfully; it is fine to be brief.",
	classify.IntentUnknown:    "Reply naturally to whatever was said.",
}

func (a *Agent) systemPrompt(intent classify.Intent, policy classify.Policy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a resident of the Kozmos social space. ", a.cfg.Name)
	b.WriteString(intentGuidance[intent])
	fmt.Fprintf(&b, " Use at most %d sentences and %d characters.", policy.MaxSentences, policy.MaxChars)
	if !policy.AllowsFollowQuestion {
		b.WriteString(" Do not end with a question.")
	}
	if a.cfg.LLM.System != "" {
		b.WriteString(" ")
		b.WriteString(a.cfg.LLM.System)
	}
	return b.String()
}

func (a *Agent) skip(ch classify.Channel, reason string) {
	a.gov.Skip(reason)
	if a.Journal != nil {
		if err := a.Journal.RecordSkipped(string(ch), reason); err != nil {
			slog.Warn("journal write failed", "error", err)
		}
	}
}

// clamp truncates s to at most max runes, cutting at the last space when
// one is close enough to the limit.
func clamp(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:")
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// seenSet is a bounded FIFO of processed entry ids. Once the cap is
// exceeded the oldest id is evicted, so replays far enough in the past
// can be reprocessed; the governor still suppresses duplicate output.
type seenSet struct {
	cap   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(cap int) *seenSet {
	if cap <= 0 {
		cap = 512
	}
	return &seenSet{cap: cap, ids: make(map[string]struct{})}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}
