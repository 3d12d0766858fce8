package audit

import (
	"context"
	"log/slog"
)

// SlogStore writes audit events to the structured log. It is the default
// sink: deployments that ship logs already get a durable trail without a
// dedicated audit table. ListByIdentity is not supported.
type SlogStore struct {
	logger *slog.Logger
}

func NewSlogStore(logger *slog.Logger) *SlogStore {
	return &SlogStore{logger: logger}
}

func (s *SlogStore) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"identity", event.Identity,
		"origin", event.Origin,
		"outcome", event.Outcome,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"ts", event.Timestamp,
	)
	return nil
}

func (s *SlogStore) ListByIdentity(_ context.Context, _ string) ([]Event, error) {
	return nil, ErrNotFound
}
