package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/models"
)

type httpTransport struct {
	client *resty.Client
	logger *logger.Logger
}

// NewHTTPTransport constructs an HTTP/REST implementation of [Transport].
// It normalises and validates the base URL from cfg.ServerAddress and
// configures the underlying client with the resolved base URL. Per-attempt
// timeouts are enforced by the caller through the request context.
//
// Returns an error if cfg.ServerAddress is empty or cannot be parsed as a
// valid URL.
func NewHTTPTransport(cfg config.Engine, log *logger.Logger) (Transport, error) {
	baseURL, err := normalizeBaseURL(cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid authority address: %w", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &httpTransport{client: client, logger: log.Component("transport")}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Send implements [Transport]. It routes the envelope to the REST endpoint
// matching its operation, carrying the idempotency key in the body, and maps
// every failure to a *Failure kind.
func (h *httpTransport) Send(ctx context.Context, req models.Request) (models.Response, error) {
	r := h.client.R().
		SetContext(ctx).
		SetBody(req)

	var (
		resp *resty.Response
		err  error
	)
	switch req.Op {
	case models.OpCreate:
		resp, err = r.Post("/api/protocards")
	case models.OpUpdate:
		resp, err = r.Put("/api/protocards/" + url.PathEscape(req.EntityID))
	case models.OpDelete:
		resp, err = r.Delete("/api/protocards/" + url.PathEscape(req.EntityID))
	default:
		return models.Response{}, &Failure{Kind: KindProtocol, Message: fmt.Sprintf("unknown operation %q", req.Op)}
	}
	if err != nil {
		h.logger.Debug().Err(err).Str("message_id", req.ID).Msg("transport send failed")
		return models.Response{}, &Failure{Kind: KindTransient, Message: err.Error(), cause: err}
	}

	envelope, failure := decodeEnvelope(resp)
	if failure != nil {
		h.logger.Debug().
			Str("message_id", req.ID).
			Str("kind", failure.Kind.String()).
			Str("code", failure.Code).
			Msg("authority rejected message")
		return models.Response{}, failure
	}

	return envelope, nil
}

// List implements [Transport]. It fetches the canonical records of all live
// protocards from the authority.
func (h *httpTransport) List(ctx context.Context) ([]models.Record, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		Get("/api/protocards")
	if err != nil {
		return nil, &Failure{Kind: KindTransient, Message: err.Error(), cause: err}
	}

	if resp.IsError() {
		_, failure := decodeEnvelope(resp)
		return nil, failure
	}

	var list models.ListResponse
	if err = json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, &Failure{Kind: KindProtocol, Message: "undecodable list response", cause: err}
	}
	return list.Results, nil
}
