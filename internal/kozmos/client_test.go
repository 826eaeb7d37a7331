package kozmos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClaimAndAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agents/claim":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["invite_code"] != "one-time-code" {
				t.Errorf("invite_code = %q", req["invite_code"])
			}
			json.NewEncoder(w).Encode(Identity{
				Token: "tok-123",
				User:  User{ID: "u1", Username: "axy"},
			})
		case "/api/agents/heartbeat":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
				t.Errorf("Authorization = %q", got)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.Claim(context.Background(), "one-time-code")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if id.User.Username != "axy" {
		t.Errorf("username = %q", id.User.Username)
	}
	if err := c.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestClaimMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"id": "u1"}})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Claim(context.Background(), "code"); err == nil {
		t.Fatal("expected error for claim response without token")
	}
}

func TestFeedCursorAndLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "2026-03-14T10:00:00Z" {
			t.Errorf("after = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q", got)
		}
		json.NewEncoder(w).Encode(FeedPage{
			Entries: []FeedEntry{
				{ID: "e1", UserID: "u2", Username: "pelin", Content: "hello"},
			},
			NextCursor: "2026-03-14T10:05:00Z",
		})
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL).Feed(context.Background(), "2026-03-14T10:00:00Z", 25)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].ID != "e1" {
		t.Errorf("entries = %+v", page.Entries)
	}
	if page.NextCursor != "2026-03-14T10:05:00Z" {
		t.Errorf("nextCursor = %q", page.NextCursor)
	}
}

func TestUnauthorizedIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Heartbeat(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestPostRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "content too long", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Post(context.Background(), "way too long")
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !IsRejection(err) {
		t.Errorf("IsRejection = false for %v", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("rejection must not read as unauthorized")
	}
}
