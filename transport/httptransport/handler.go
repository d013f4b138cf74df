// Package httptransport serves the sync service over HTTP: JSON push and
// pull endpoints plus a Server-Sent Events stream for change notifications.
//
// Authentication is out of scope: the handler trusts the X-User-ID header,
// which a fronting gateway is expected to set after verifying the caller.
package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
	syncErrors "github.com/c0deZ3R0/go-sync-server/errors"
	"github.com/c0deZ3R0/go-sync-server/fanout"
	"github.com/c0deZ3R0/go-sync-server/logging"
)

// Identity headers set by the fronting gateway.
const (
	headerUserID   = "X-User-ID"
	headerClientID = "X-Client-ID"
)

// SyncHandler is an http.Handler that serves sync requests.
type SyncHandler struct {
	service *syncserver.Service
	logger  *logging.Logger
	options *ServerOptions
}

var _ http.Handler = (*SyncHandler)(nil)

// NewSyncHandler creates a new handler for serving sync endpoints.
func NewSyncHandler(service *syncserver.Service, logger *logging.Logger, opts ...ServerOption) *SyncHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncHandler{
		service: service,
		logger:  logger.WithComponent(logging.Component("http")),
		options: applyServerOptions(opts...),
	}
}

func (h *SyncHandler) respond(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	respondWithJSON(w, r, code, payload, h.options)
}

func (h *SyncHandler) respondErr(w http.ResponseWriter, r *http.Request, code int, message string) {
	respondWithError(w, r, code, message, h.options)
}

// ServeHTTP routes requests to the appropriate handler.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Strip the /sync prefix if present
	path := r.URL.Path
	if p := "/sync"; len(path) >= len(p) && path[:len(p)] == p {
		path = path[len(p):]
	}

	switch path {
	case "/push":
		h.handlePush(w, r)
	case "/pull":
		h.handlePull(w, r)
	case "/subscribe":
		h.handleSubscribe(w, r)
	case "/healthz":
		h.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
	default:
		h.respondErr(w, r, http.StatusNotFound, "not found")
	}
}

// userID extracts the caller identity, or writes a 401 and returns "".
func (h *SyncHandler) userID(w http.ResponseWriter, r *http.Request) string {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		h.respondErr(w, r, http.StatusUnauthorized, "missing "+headerUserID+" header")
	}
	return userID
}

// clientID resolves the device identity from header or query parameter.
func clientID(r *http.Request) string {
	if id := r.Header.Get(headerClientID); id != "" {
		return id
	}
	return r.URL.Query().Get("clientId")
}

func (h *SyncHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondErr(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !validateContentType(w, r, h.options) {
		return
	}
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	if r.ContentLength > h.options.MaxRequestSize {
		h.respondErr(w, r, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body too large: maximum size is %d bytes", h.options.MaxRequestSize))
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.options.MaxRequestSize)

	var env pushEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondErr(w, r, http.StatusRequestEntityTooLarge, "request entity too large")
			return
		}
		if err == io.EOF {
			h.respondErr(w, r, http.StatusBadRequest, "empty request body")
			return
		}
		h.respondErr(w, r, http.StatusBadRequest, "malformed push request: "+err.Error())
		return
	}

	req := syncserver.PushRequest{
		ClientID:   env.ClientID,
		Baseline:   env.Baseline,
		Operations: env.Operations,
	}
	if req.ClientID == "" {
		req.ClientID = clientID(r)
	}

	page, err := h.service.Push(r.Context(), userID, req)
	if err != nil {
		if syncErrors.IsValidation(err) {
			h.respondErr(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.LogError(r.Context(), err, "push failed", slog.String("user_id", userID))
		h.respondErr(w, r, http.StatusInternalServerError, "could not apply push batch")
		return
	}
	h.respond(w, r, http.StatusOK, toPageEnvelope(page))
}

func (h *SyncHandler) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondErr(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	query := r.URL.Query()
	cur, err := cursor.Parse(query.Get("updatedAt"), query.Get("lastKey"))
	if err != nil {
		h.respondErr(w, r, http.StatusBadRequest, "invalid cursor: "+err.Error())
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			h.respondErr(w, r, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
	}

	page, err := h.service.Pull(r.Context(), userID, syncserver.PullQuery{Cursor: cur, Limit: limit})
	if err != nil {
		if syncErrors.IsValidation(err) {
			h.respondErr(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.LogError(r.Context(), err, "pull failed", slog.String("user_id", userID))
		h.respondErr(w, r, http.StatusInternalServerError, "could not load records")
		return
	}
	h.respond(w, r, http.StatusOK, toPageEnvelope(page))
}

// handleSubscribe upgrades the request to a Server-Sent Events stream and
// forwards change notifications until the client disconnects.
func (h *SyncHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondErr(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := h.userID(w, r)
	if userID == "" {
		return
	}
	client := clientID(r)
	if client == "" {
		h.respondErr(w, r, http.StatusBadRequest, "missing client id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondErr(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	notifications, cancel, err := h.service.Subscribe(userID, client)
	if err != nil {
		h.respondErr(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.DebugContext(r.Context(), "subscribe stream opened",
		slog.String("user_id", userID),
		slog.String("client_id", client),
	)

	heartbeat := time.NewTicker(h.options.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-notifications:
			if !ok {
				// Replaced by a newer subscription with the same client id.
				return
			}
			if err := writeEvent(w, flusher, n); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent emits one SSE "change" event carrying the notification JSON.
func writeEvent(w io.Writer, flusher http.Flusher, n fanout.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
