// Package authority is the reference server side of the sync protocol: a
// REST mutation surface with an idempotency journal, a read-side listing, and
// a websocket stream broadcasting every committed change.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/store"
	"github.com/protocard/protosync/models"
)

var (
	// ErrValidation is returned for malformed or incomplete mutation
	// requests.
	ErrValidation = errors.New("validation failed")
)

// Broadcaster fans one push event out to every connected stream consumer.
type Broadcaster interface {
	Broadcast(ev models.PushEvent)
}

// nopBroadcaster drops events; used when the service runs without a stream.
type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(models.PushEvent) {}

// Service implements the authority's operations over the repositories. Every
// mutation is journaled under its message identifier before the response
// leaves the service, so a replayed message returns the original response
// without touching the protocard tables again.
type Service struct {
	repos       *store.Repositories
	ids         *ident.Service
	broadcaster Broadcaster
	logger      *logger.Logger
}

// NewService constructs a Service. A nil broadcaster disables the stream.
func NewService(repos *store.Repositories, broadcaster Broadcaster, log *logger.Logger) *Service {
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &Service{
		repos:       repos,
		ids:         ident.NewService(),
		broadcaster: broadcaster,
		logger:      log.Component("authority"),
	}
}

// Create mints a new protocard from a client create message.
func (s *Service) Create(ctx context.Context, req models.Request) (models.Response, error) {
	if err := validateMessageID(req.ID); err != nil {
		return models.Response{}, err
	}
	if req.Content == nil {
		return models.Response{}, fmt.Errorf("%w: create without content", ErrValidation)
	}

	if resp, replayed, err := s.replay(ctx, req.ID); err != nil {
		return models.Response{}, err
	} else if replayed {
		return resp, nil
	}

	now := time.Now().UTC()
	rec, err := s.repos.Protocards.Create(ctx,
		s.ids.NewServerEntityID().String(),
		s.ids.NewServerSnapshotID().String(),
		*req.Content,
		now,
	)
	if err != nil {
		return models.Response{}, err
	}

	resp := s.ackResponse(req.ID, "protocard.created", &rec, now)
	if err := s.journal(ctx, req.ID, resp, now); err != nil {
		return models.Response{}, err
	}

	s.broadcaster.Broadcast(models.PushEvent{Type: models.EventEntityCreated, Result: &rec, Timestamp: now})
	return resp, nil
}

// Update appends a new version to an existing protocard.
func (s *Service) Update(ctx context.Context, entityID string, req models.Request) (models.Response, error) {
	if err := validateMessageID(req.ID); err != nil {
		return models.Response{}, err
	}
	if !ident.Validate(entityID, ident.KindServerEntity) {
		return models.Response{}, fmt.Errorf("%w: malformed entity id %q", ErrValidation, entityID)
	}
	if req.Content == nil {
		return models.Response{}, fmt.Errorf("%w: update without content", ErrValidation)
	}

	if resp, replayed, err := s.replay(ctx, req.ID); err != nil {
		return models.Response{}, err
	} else if replayed {
		return resp, nil
	}

	now := time.Now().UTC()
	rec, err := s.repos.Protocards.Append(ctx, entityID, s.ids.NewServerSnapshotID().String(), *req.Content, false, now)
	if err != nil {
		return models.Response{}, err
	}

	resp := s.ackResponse(req.ID, "protocard.updated", &rec, now)
	if err := s.journal(ctx, req.ID, resp, now); err != nil {
		return models.Response{}, err
	}

	s.broadcaster.Broadcast(models.PushEvent{Type: models.EventEntityUpdated, Result: &rec, Timestamp: now})
	return resp, nil
}

// Delete appends a tombstone version to an existing protocard.
func (s *Service) Delete(ctx context.Context, entityID string, req models.Request) (models.Response, error) {
	if err := validateMessageID(req.ID); err != nil {
		return models.Response{}, err
	}
	if !ident.Validate(entityID, ident.KindServerEntity) {
		return models.Response{}, fmt.Errorf("%w: malformed entity id %q", ErrValidation, entityID)
	}

	if resp, replayed, err := s.replay(ctx, req.ID); err != nil {
		return models.Response{}, err
	} else if replayed {
		return resp, nil
	}

	now := time.Now().UTC()
	if _, err := s.repos.Protocards.Append(ctx, entityID, s.ids.NewServerSnapshotID().String(), models.Content{}, true, now); err != nil {
		return models.Response{}, err
	}

	resp := s.ackResponse(req.ID, "protocard.deleted", nil, now)
	if err := s.journal(ctx, req.ID, resp, now); err != nil {
		return models.Response{}, err
	}

	s.broadcaster.Broadcast(models.PushEvent{
		Type:      models.EventEntityDeleted,
		Result:    &models.Record{EntityID: entityID},
		Timestamp: now,
	})
	return resp, nil
}

// Get returns the current version of one protocard.
func (s *Service) Get(ctx context.Context, entityID string) (models.Response, error) {
	if !ident.Validate(entityID, ident.KindServerEntity) {
		return models.Response{}, fmt.Errorf("%w: malformed entity id %q", ErrValidation, entityID)
	}

	rec, err := s.repos.Protocards.Get(ctx, entityID)
	if err != nil {
		return models.Response{}, err
	}

	return models.Response{
		Success: true,
		Type:    "protocard",
		Result:  &rec,
		Meta:    models.Meta{Timestamp: time.Now().UTC()},
	}, nil
}

// List returns the current version of every live protocard.
func (s *Service) List(ctx context.Context) (models.ListResponse, error) {
	records, err := s.repos.Protocards.List(ctx)
	if err != nil {
		return models.ListResponse{}, err
	}

	return models.ListResponse{
		Success: true,
		Type:    "protocard.list",
		Results: records,
		Meta:    models.Meta{Timestamp: time.Now().UTC()},
	}, nil
}

// History returns every version of one protocard.
func (s *Service) History(ctx context.Context, entityID string) (models.ListResponse, error) {
	if !ident.Validate(entityID, ident.KindServerEntity) {
		return models.ListResponse{}, fmt.Errorf("%w: malformed entity id %q", ErrValidation, entityID)
	}

	records, err := s.repos.Protocards.History(ctx, entityID)
	if err != nil {
		return models.ListResponse{}, err
	}
	if len(records) == 0 {
		return models.ListResponse{}, store.ErrEntityNotFound
	}

	return models.ListResponse{
		Success: true,
		Type:    "protocard.history",
		Results: records,
		Meta:    models.Meta{Timestamp: time.Now().UTC()},
	}, nil
}

// replay looks the message up in the idempotency journal and, on a hit,
// returns the stored response verbatim.
func (s *Service) replay(ctx context.Context, messageID string) (models.Response, bool, error) {
	stored, err := s.repos.Messages.Lookup(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotProcessed) {
			return models.Response{}, false, nil
		}
		return models.Response{}, false, err
	}

	var resp models.Response
	if err := json.Unmarshal(stored, &resp); err != nil {
		return models.Response{}, false, fmt.Errorf("decoding journaled response: %w", err)
	}

	s.logger.Info().Str("message_id", messageID).Msg("replaying journaled response")
	return resp, true, nil
}

func (s *Service) journal(ctx context.Context, messageID string, resp models.Response, at time.Time) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response for journal: %w", err)
	}
	return s.repos.Messages.Record(ctx, messageID, resp.Meta.AckID, payload, at)
}

func (s *Service) ackResponse(messageID, respType string, rec *models.Record, at time.Time) models.Response {
	return models.Response{
		ID:      messageID,
		Success: true,
		Type:    respType,
		Result:  rec,
		Meta: models.Meta{
			Timestamp: at,
			AckID:     s.ids.NewAckID().String(),
		},
	}
}

func validateMessageID(raw string) error {
	if !ident.Validate(raw, ident.KindMessage) {
		return fmt.Errorf("%w: malformed message id %q", ErrValidation, raw)
	}
	return nil
}
