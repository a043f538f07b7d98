package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/pushbeam/backend/internal/dispatch"
	"github.com/pushbeam/backend/internal/httputil"
)

// handleSubmit accepts a notification submission, normalizes and
// validates it, and hands it to the dispatcher. The 201 response
// carries the enriched canonical record; it means "validated and
// enriched", not "durably persisted" -- journal durability is still
// pending when the response is written.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)

	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Body == "" {
		httputil.WriteError(w, http.StatusBadRequest, "body is required")
		return
	}

	rec := s.dispatcher.Submit(req)
	log.Printf("server: notification accepted id=%s title=%q category=%s", rec.ID, rec.Title, rec.Category)

	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// handleHealth reports liveness. It deliberately checks nothing
// downstream: the gateway can accept submissions even while the
// journal is degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "up",
		"subscribers": s.hub.Len(),
	})
}
