// Package services orchestrates writes across the ledger and the sync
// queue: the local database commit always comes first, the queue is
// best-effort behind it.
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"kitty/internal/core"
	"kitty/internal/ledger"
)

// SyncPublisher publishes mirror requests for committed ledger entries.
type SyncPublisher interface {
	PublishContributionSync(ctx context.Context, contributionID int64) error
}

// ContributionService couples the ledger with the sync queue.
type ContributionService struct {
	ledger    *ledger.Service
	publisher SyncPublisher
}

func NewContributionService(ledger *ledger.Service, publisher SyncPublisher) *ContributionService {
	return &ContributionService{
		ledger:    ledger,
		publisher: publisher,
	}
}

// Record appends a contribution locally, then publishes a sync message.
// A publish failure is logged but never fails the request: the entry is
// committed and the worker's pending-sync sweep will pick it up.
func (s *ContributionService) Record(ctx context.Context, memberID, cycleID string, amount core.Money, method core.PaymentMethod, recorder string) (core.Contribution, error) {
	c, err := s.ledger.RecordContribution(ctx, memberID, cycleID, amount, method, recorder)
	if err != nil {
		return core.Contribution{}, fmt.Errorf("record contribution: %w", err)
	}

	if s.publisher == nil {
		slog.WarnContext(ctx, "Sync publisher not available, skipping sync message", "contribution_id", c.ID)
		return c, nil
	}
	if err := s.publisher.PublishContributionSync(ctx, c.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"contribution_id", c.ID, "error", err)
	}

	return c, nil
}

// List proxies ledger listings.
func (s *ContributionService) List(ctx context.Context, f ledger.Filter) ([]core.Contribution, error) {
	return s.ledger.ListContributions(ctx, f)
}

// Close releases the publisher connection when it owns one.
func (s *ContributionService) Close() error {
	if closer, ok := s.publisher.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
