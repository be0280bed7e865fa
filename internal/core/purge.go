package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shopsheet/internal/logging"
)

// Purge deletes every record in chunks of chunkSize, ordered by ID, so no
// single statement touches more than chunkSize rows. chunkSize below 1 is
// raised to 1. Attachments go with their records.
//
// Each round looks up the chunkSize-th ID after the cursor, deletes up to
// and including it, and advances the cursor. When fewer than chunkSize
// rows remain they are deleted in one final batch.
func (s *Service) Purge(ctx context.Context, chunkSize int) (PurgeResult, error) {
	if chunkSize < 1 {
		chunkSize = 1
	}

	ctx = logging.ContextWithRunID(ctx, uuid.NewString())
	logger := logging.WithFields(ctx, "chunk_size", chunkSize)
	start := time.Now()

	var (
		result PurgeResult
		cursor int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		boundary, ok, err := s.store.ChunkBoundary(ctx, cursor, chunkSize)
		if err != nil {
			return result, fmt.Errorf("purge: find chunk boundary: %w", err)
		}
		if !ok {
			break
		}

		n, err := s.store.DeleteRange(ctx, cursor, boundary)
		if err != nil {
			return result, fmt.Errorf("purge: delete through id %d: %w", boundary, err)
		}
		result.Deleted += n
		result.Batches++
		cursor = boundary

		logger.Debug("purge batch", "through_id", boundary, "deleted", n)
	}

	n, err := s.store.DeleteAfter(ctx, cursor)
	if err != nil {
		return result, fmt.Errorf("purge: delete remainder: %w", err)
	}
	if n > 0 {
		result.Deleted += n
		result.Batches++
	}

	logger.Info("purge completed",
		"deleted", result.Deleted,
		"batches", result.Batches,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
