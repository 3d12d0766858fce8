package audit

import (
	"context"

	"usher/pkg/apperr"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = apperr.New(apperr.CodeNotFound, "record not found")
)

type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIdentity(ctx context.Context, identity string) ([]Event, error)
}
