package store

import (
	"context"
	"strings"

	"github.com/carelinehq/careline/internal/consult"
)

// Store persists consultation sessions. The orchestrator owns the live state
// and writes through after every mutation; the store is the durable record
// handed to downstream collaborators (dashboards, audit).
type Store interface {
	SaveSession(ctx context.Context, s consult.Session) error
	GetSession(ctx context.Context, id string) (consult.Session, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
