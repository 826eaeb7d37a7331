package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozmos-labs/axy/internal/journal"
	"github.com/kozmos-labs/axy/internal/kozmos"
	"github.com/kozmos-labs/axy/internal/llm"
	"github.com/kozmos-labs/axy/pkg/governor"
	_ "modernc.org/sqlite"
)

// stubProvider returns a fixed reply for every completion.
type stubProvider struct {
	reply string
	calls int
	mu    sync.Mutex
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &llm.CompletionResponse{Content: p.reply}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// feedServer simulates the Kozmos API: claim, heartbeat, feed pages and
// dispatch. Each call to Feed serves the next configured page,
// repeating the last one.
type feedServer struct {
	t     *testing.T
	pages [][]kozmos.FeedEntry

	mu       sync.Mutex
	feedCall int
	posts    []string
	feed401  bool
	hb401    bool
}

func (s *feedServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agents/claim", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"token": "test-token",
			"user":  map[string]string{"id": "u-axy", "username": "axy"},
		})
	})
	mux.HandleFunc("POST /api/agents/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		expired := s.hb401
		s.mu.Unlock()
		if expired {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/feed", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.feed401 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		i := s.feedCall
		if i >= len(s.pages) {
			i = len(s.pages) - 1
		}
		s.feedCall++
		json.NewEncoder(w).Encode(kozmos.FeedPage{Entries: s.pages[i]})
	})
	mux.HandleFunc("POST /api/feed", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.posts = append(s.posts, body.Content)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func (s *feedServer) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func testConfig(baseURL string) *Config {
	cfg := &Config{
		Name:              "axy",
		BaseURL:           baseURL,
		InviteCode:        "invite-1",
		PollInterval:      "10ms",
		HeartbeatInterval: "10ms",
		Lookback:          "10m",
	}
	cfg.applyDefaults()
	return cfg
}

func entry(id, userID, content string) kozmos.FeedEntry {
	return kozmos.FeedEntry{
		ID:        id,
		UserID:    userID,
		Username:  "visitor",
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func runAgent(t *testing.T, srv *feedServer, provider llm.Provider) (*Agent, func() error) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	a := New(cfg, kozmos.NewClient(ts.URL), provider, governor.New(governor.Config{}))
	if err := a.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return a, func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("agent did not stop")
			return nil
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTriggeredEntryDispatchedOnce(t *testing.T) {
	triggered := entry("e1", "u-visitor", "hey axy, what are you building")
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{
		{triggered},
		{triggered}, // redelivered, must not dispatch again
	}}
	provider := &stubProvider{reply: "A small garden for shared notes, come look around."}

	_, stop := runAgent(t, srv, provider)
	waitFor(t, func() bool { return srv.postCount() >= 1 })

	// Let a few redelivery polls happen
	time.Sleep(100 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := srv.postCount(); got != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", got)
	}
	if got := provider.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 generation, got %d", got)
	}
}

func TestOwnAndUntriggeredEntriesIgnored(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{
		{
			entry("e1", "u-axy", "hey axy talking to myself"),
			entry("e2", "u-visitor", "nice weather today"),
		},
	}}
	provider := &stubProvider{reply: "should never be asked"}

	a, stop := runAgent(t, srv, provider)
	srv.mu.Lock()
	calls := srv.feedCall
	srv.mu.Unlock()
	waitFor(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.feedCall > calls+2
	})
	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := srv.postCount(); got != 0 {
		t.Fatalf("expected no dispatch, got %d", got)
	}
	if got := provider.callCount(); got != 0 {
		t.Fatalf("expected no generation, got %d", got)
	}

	snap := a.gov.Snapshot()
	if got := snap.Counters.SkippedByReason["own-message"]; got != 1 {
		t.Errorf("skippedByReason[own-message] = %d, want 1", got)
	}
	if got := snap.Counters.SkippedByReason["no-trigger"]; got != 1 {
		t.Errorf("skippedByReason[no-trigger] = %d, want 1", got)
	}
}

func TestFeedUnauthorizedIsFatal(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{{}}}
	srv.feed401 = true
	provider := &stubProvider{reply: "unused"}

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	a := New(cfg, kozmos.NewClient(ts.URL), provider, governor.New(governor.Config{}))
	if err := a.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := a.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if !errors.Is(err, kozmos.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHeartbeatUnauthorizedIsFatal(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{{}}}
	srv.hb401 = true
	provider := &stubProvider{reply: "unused"}

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	a := New(cfg, kozmos.NewClient(ts.URL), provider, governor.New(governor.Config{}))
	if err := a.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The feed stays healthy; only the heartbeat sees the revoked token.
	// The poll loop must still observe the flag and terminate.
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected fatal error")
		}
		if !errors.Is(err, kozmos.ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not terminate on heartbeat auth loss")
	}
}

func TestTriggerOverrideKeepsAxyAndCaseFolding(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{{}}}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	cfg.TriggerPattern = `\bhelper\b`
	a := New(cfg, kozmos.NewClient(ts.URL), &stubProvider{}, governor.New(governor.Config{}))
	if err := a.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	for _, text := range []string{
		"ping helper now",
		"ping HELPER now", // override must stay case-insensitive
		"hey axy, are you there", // literal word axy always triggers
	} {
		if !a.trigger.MatchString(text) {
			t.Errorf("trigger did not match %q", text)
		}
	}
	if a.trigger.MatchString("nothing relevant here") {
		t.Error("trigger matched unrelated text")
	}
	if a.trigger.MatchString("galaxy brain idea") {
		t.Error("trigger matched axy inside another word")
	}
}

func TestEmptyReplySkipped(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{
		{entry("e1", "u-visitor", "axy say something")},
	}}
	provider := &stubProvider{reply: "   "}

	a, stop := runAgent(t, srv, provider)
	waitFor(t, func() bool {
		return a.gov.Snapshot().Counters.SkippedByReason["empty-reply"] >= 1
	})
	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := srv.postCount(); got != 0 {
		t.Fatalf("expected no dispatch for empty reply, got %d", got)
	}
}

func TestClaimRestoresNewestRepliesToLocalWindow(t *testing.T) {
	srv := &feedServer{t: t, pages: [][]kozmos.FeedEntry{{}}}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	// More history than the local window holds; the window must end up
	// with the newest replies, not the oldest.
	texts := []string{
		"planted tulips near the fountain this morning",
		"the observatory dome got a fresh coat of paint",
		"someone left sheet music on the piano bench",
		"tried baking sourdough with the communal starter",
		"the north bridge lanterns flicker after midnight",
		"mapped the old tunnels under the market square",
		"a stray cat adopted the reading room yesterday",
		"swapped seeds with the rooftop garden crew",
		"the telescope finally tracks satellites cleanly",
		"built a tiny windmill from spare clock parts",
	}
	for _, text := range texts {
		if err := j.RecordSent("feed", text); err != nil {
			t.Fatalf("record sent: %v", err)
		}
	}

	cfg := testConfig(ts.URL)
	gov := governor.New(governor.Config{})
	a := New(cfg, kozmos.NewClient(ts.URL), &stubProvider{}, gov)
	a.Journal = j
	if err := a.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	d := gov.Admit(context.Background(), "feed", "visitor", texts[len(texts)-1])
	if d.Allowed {
		t.Fatal("newest restored reply should be suppressed")
	}
	if d.Reason != governor.ReasonDuplicateLocal {
		t.Fatalf("expected duplicate-local from the channel window, got %q", d.Reason)
	}
}

func TestClampRespectsLimit(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += fmt.Sprintf("word%d ", i)
	}
	got := clamp(long, 80)
	if len([]rune(got)) > 80 {
		t.Fatalf("clamp exceeded limit: %d runes", len([]rune(got)))
	}
	short := "already short"
	if clamp(short, 80) != short {
		t.Fatal("clamp modified text under the limit")
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(2)
	s.add("a")
	s.add("b")
	s.add("c")
	if s.contains("a") {
		t.Fatal("oldest id should have been evicted")
	}
	if !s.contains("b") || !s.contains("c") {
		t.Fatal("recent ids should be retained")
	}
}
