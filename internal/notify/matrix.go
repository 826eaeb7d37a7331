// Package notify delivers operator notices over Matrix. It is send-only:
// the agent never syncs or reads rooms, it just pushes short status lines
// (auth loss, semantic archive failures, startup/shutdown) to a configured
// room so the operator hears about problems without tailing logs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix notifier configuration.
type Config struct {
	Homeserver string
	UserID     string // localpart, e.g. "axy"
	Password   string
	ServerName string // e.g. "matrix.example.com"
	RoomID     string // room to post notices into
	DataDir    string
}

// Notifier posts notices to one Matrix room. A nil *Notifier is valid and
// drops everything, so callers never have to guard with a config check.
type Notifier struct {
	client   *mautrix.Client
	roomID   id.RoomID
	credFile string
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New logs into Matrix and returns a ready notifier. Saved credentials are
// tried before password login so restarts do not mint a new device each time.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	os.MkdirAll(cfg.DataDir, 0o755)

	fullUserID := fmt.Sprintf("@%s:%s", cfg.UserID, cfg.ServerName)
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(fullUserID), "")
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	n := &Notifier{
		client:   client,
		roomID:   id.RoomID(cfg.RoomID),
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}

	if err := n.loadCredentials(); err == nil {
		slog.Info("loaded saved matrix credentials", "user", fullUserID)
		return n, nil
	}

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: cfg.UserID,
		},
		Password:         cfg.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix login: %w", err)
	}
	slog.Info("logged into matrix", "user", resp.UserID, "device", resp.DeviceID)

	n.saveCredentials(credentials{
		AccessToken: resp.AccessToken,
		UserID:      string(resp.UserID),
		DeviceID:    string(resp.DeviceID),
	})
	return n, nil
}

// Notify posts a text notice to the configured room. Failures are logged,
// not returned: a lost notice must never stall the agent loop.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if n == nil {
		return
	}
	if _, err := n.client.SendText(ctx, n.roomID, text); err != nil {
		slog.Warn("matrix notice failed", "room", n.roomID, "error", err)
		return
	}
	slog.Debug("matrix notice sent", "room", n.roomID, "len", len(text))
}

func (n *Notifier) loadCredentials() error {
	data, err := os.ReadFile(n.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	n.client.AccessToken = creds.AccessToken
	n.client.UserID = id.UserID(creds.UserID)
	n.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (n *Notifier) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	os.WriteFile(n.credFile, data, 0o600)
}
