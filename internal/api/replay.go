// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/replay"
)

// replayWarningHeader lists headers that were stripped from the
// re-delivered request.
const replayWarningHeader = "X-Apify-Replay-Warning"

// handleReplay re-delivers a stored capture to a target URL. GET and
// POST are equivalent; the target comes from the url query parameter.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Get()
	webhookID := chi.URLParam(r, "webhookID")
	eventID := chi.URLParam(r, "eventID")
	target := replay.NormalizeTarget(r.URL.Query()["url"])

	res, err := s.replayer.Replay(r.Context(), webhookID, eventID, target, replay.Options{
		MaxRetries:     cfg.ReplayMaxRetries,
		Timeout:        cfg.ReplayTimeout(),
		ForwardHeaders: cfg.ForwardHeaders,
	})
	if err != nil {
		var rerr *replay.Error
		if errors.As(err, &rerr) {
			respondError(w, r, rerr.Status, rerr.Message)
			return
		}
		s.logger.Error().
			Str("event", "api.replay.failed").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Str(log.FieldWebhookID, webhookID).
			Str(log.FieldEventID, eventID).
			Err(err).
			Msg("replay failed")
		respondError(w, r, http.StatusInternalServerError, "Replay failed")
		return
	}

	if len(res.StrippedHeaders) > 0 {
		w.Header().Set(replayWarningHeader, strings.Join(res.StrippedHeaders, ", "))
	}
	writeJSON(w, http.StatusOK, res)
}
