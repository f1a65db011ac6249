// Package adapter implements the transport boundary between the sync engine
// and the remote authority. The outbox sees a single Send abstraction;
// failures come back as a tagged Failure kind, never as an exception-style
// type hierarchy, so callers can branch on the kind with errors.As.
package adapter

import (
	"context"

	"github.com/protocard/protosync/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/transport_mock.go -package=mock

// Transport delivers one outbound envelope and returns the authority's
// response. Implementations must treat a context deadline like any other
// transport failure.
type Transport interface {
	// Send delivers req and decodes the response envelope. A non-nil error
	// is always a *Failure.
	Send(ctx context.Context, req models.Request) (models.Response, error)

	// List fetches the canonical records of all live protocards, used to
	// seed the ledger on startup.
	List(ctx context.Context) ([]models.Record, error)
}
