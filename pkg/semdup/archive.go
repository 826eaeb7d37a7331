package semdup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDistanceCutoff is the cosine distance below which an archived
// reply counts as a semantic duplicate of the candidate.
const DefaultDistanceCutoff = 0.12

// Archive ties the embedding client and the pgvector store together. It
// satisfies the governor's archive contract.
type Archive struct {
	store  *Store
	embed  *EmbedClient
	cutoff float64
}

// NewArchive creates an archive. A non-positive cutoff falls back to
// DefaultDistanceCutoff.
func NewArchive(store *Store, embed *EmbedClient, cutoff float64) *Archive {
	if cutoff <= 0 {
		cutoff = DefaultDistanceCutoff
	}
	return &Archive{store: store, embed: embed, cutoff: cutoff}
}

// IsSemanticDuplicate reports whether the candidate is closer than the
// cutoff to any archived reply.
func (a *Archive) IsSemanticDuplicate(ctx context.Context, text string) (bool, error) {
	embedding, err := a.embed.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embed candidate: %w", err)
	}
	n, err := a.store.Nearest(ctx, embedding)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}
	if n.Distance < a.cutoff {
		slog.Debug("semantic duplicate found",
			"distance", n.Distance,
			"channel", n.Channel,
			"archived_id", n.ID,
		)
		return true, nil
	}
	return false, nil
}

// Record embeds and archives a dispatched reply. Failures are logged, not
// returned: archiving is best-effort and must never fail a dispatch that
// already happened.
func (a *Archive) Record(ctx context.Context, channel, content string, sentAt time.Time) {
	embedding, err := a.embed.Embed(ctx, content)
	if err != nil {
		slog.Warn("archive embed failed", "error", err)
		return
	}
	if err := a.store.Insert(ctx, channel, content, embedding, sentAt); err != nil {
		slog.Warn("archive insert failed", "error", err)
	}
}
