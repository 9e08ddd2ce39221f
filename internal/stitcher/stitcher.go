// Package stitcher expands message hits with their chronological thread
// neighbors so callers see conversational context instead of isolated
// turns. Windows are ordinal-based and never cross a thread boundary.
package stitcher

import (
	"context"
	"fmt"

	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// DefaultWindow is the number of neighbors fetched on each side of a hit
const DefaultWindow = 1

// Stitcher resolves recall hits into ordinal windows over their threads
type Stitcher struct {
	storage storage.Storage
	window  int
}

// New creates a Stitcher. A window of n returns up to n messages before
// and after the hit; n <= 0 takes DefaultWindow.
func New(store storage.Storage, window int) *Stitcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stitcher{storage: store, window: window}
}

// Window returns the configured per-side window size
func (s *Stitcher) Window() int {
	return s.window
}

// Stitch expands every message hit in ranked order. Non-message hits
// have no thread position and are passed over. A hit whose message can
// no longer be loaded is skipped rather than failing the set.
func (s *Stitcher) Stitch(ctx context.Context, hits []types.FusionHit) ([]types.StitchedContext, error) {
	contexts := make([]types.StitchedContext, 0, len(hits))
	for _, hit := range hits {
		if hit.Kind != types.KindMessage {
			continue
		}
		stitched, err := s.StitchMessage(ctx, hit.ID)
		if err != nil {
			continue
		}
		contexts = append(contexts, *stitched)
	}
	return contexts, nil
}

// StitchMessage expands a single message into its thread window
func (s *Stitcher) StitchMessage(ctx context.Context, messageID string) (*types.StitchedContext, error) {
	msg, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", messageID, err)
	}

	window, err := s.storage.ThreadWindow(ctx, msg.ThreadID, msg.Ordinal, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread window for %s: %w", messageID, err)
	}

	return &types.StitchedContext{
		HitID:    messageID,
		ThreadID: msg.ThreadID,
		Messages: window,
	}, nil
}
