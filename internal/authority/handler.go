package authority

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/models"
)

// Handler exposes the authority service over HTTP and the websocket stream.
type Handler struct {
	service *Service
	hub     *Hub
	logger  *logger.Logger

	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. hub may be nil when the stream endpoint is
// not served.
func NewHandler(service *Service, hub *Hub, log *logger.Logger) *Handler {
	log.Info().Msg("http handler created")
	return &Handler{
		service: service,
		hub:     hub,
		logger:  log,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Create(r.Context(), req)
	if err != nil {
		log.Err(err).Str("func", "*Handler.create").Str("message_id", req.ID).Msg("create failed")
		h.writeError(w, req.ID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)
	entityID := chi.URLParam(r, "entityID")

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Update(r.Context(), entityID, req)
	if err != nil {
		log.Err(err).Str("func", "*Handler.update").Str("entity_id", entityID).Msg("update failed")
		h.writeError(w, req.ID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)
	entityID := chi.URLParam(r, "entityID")

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Delete(r.Context(), entityID, req)
	if err != nil {
		log.Err(err).Str("func", "*Handler.delete").Str("entity_id", entityID).Msg("delete failed")
		h.writeError(w, req.ID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	resp, err := h.service.Get(r.Context(), entityID)
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	resp, err := h.service.History(r.Context(), entityID)
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// events upgrades the request to a websocket and attaches it to the hub. The
// read loop exists only to notice the peer going away; clients never send
// anything meaningful upstream.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Err(err).Str("func", "*Handler.events").Msg("websocket upgrade failed")
		return
	}

	if err := h.hub.attach(conn); err != nil {
		log.Err(err).Str("func", "*Handler.events").Msg("greeting new subscriber failed")
		conn.Close()
		return
	}

	go func() {
		defer func() {
			h.hub.detach(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (models.Request, bool) {
	log := logger.FromRequest(r)

	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Err(err).Str("func", "*Handler.decodeRequest").Msg("invalid JSON was passed")
		h.writeJSON(w, http.StatusBadRequest, models.Response{
			Success: false,
			Type:    "api.error",
			Error:   &models.ResponseError{Message: "invalid JSON was passed", Code: "validation"},
			Meta:    models.Meta{Timestamp: time.Now().UTC()},
		})
		return models.Request{}, false
	}
	return req, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Err(err).Str("func", "*Handler.writeJSON").Msg("encoding response failed")
	}
}

// writeError emits the failure envelope. msgID echoes the request's
// idempotency key so the caller can correlate the failure with the message
// that produced it; read endpoints carry no message and pass an empty id.
func (h *Handler) writeError(w http.ResponseWriter, msgID string, err error) {
	status, code := statusFromError(err)
	h.writeJSON(w, status, models.Response{
		ID:      msgID,
		Success: false,
		Type:    "api.error",
		Error:   &models.ResponseError{Message: err.Error(), Code: code},
		Meta:    models.Meta{Timestamp: time.Now().UTC()},
	})
}
