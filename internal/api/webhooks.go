// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// maxGeneratePerRequest caps one POST /webhooks call; bulk provisioning
// should loop rather than allocate thousands of identities at once.
const maxGeneratePerRequest = 100

// webhookItem is one active identity as presented by the API.
type webhookItem struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	CreatedAt      int64   `json:"createdAt"`
	ExpiresAt      int64   `json:"expiresAt"`
	RetentionHours float64 `json:"retentionHours"`
	ForwardURL     string  `json:"forwardUrl,omitempty"`
}

// handleListWebhooks returns the active identities with their ingestion
// paths.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	active := s.webhooks.AllActive()
	items := make([]webhookItem, len(active))
	for i, wh := range active {
		items[i] = webhookItem{
			ID:             wh.ID,
			URL:            "/webhook/" + wh.ID,
			CreatedAt:      wh.CreatedAt,
			ExpiresAt:      wh.ExpiresAt,
			RetentionHours: wh.RetentionHours,
			ForwardURL:     wh.ForwardURL,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// generateRequest is the POST /webhooks body.
type generateRequest struct {
	Count          int     `json:"count"`
	RetentionHours float64 `json:"retentionHours,omitempty"`
	ForwardURL     string  `json:"forwardUrl,omitempty"`
}

// handleGenerateWebhooks mints new ingestion identities on demand.
func (s *Server) handleGenerateWebhooks(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Get()

	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if req.Count < 1 || req.Count > maxGeneratePerRequest {
		respondError(w, r, http.StatusBadRequest, "count must be between 1 and 100")
		return
	}
	retention := req.RetentionHours
	if retention <= 0 {
		retention = float64(cfg.RetentionHours)
	}

	ids, err := s.webhooks.Generate(r.Context(), req.Count, retention, req.ForwardURL)
	if err != nil {
		s.logger.Error().
			Str("event", "api.webhooks.generate_failed").
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Err(err).
			Msg("webhook generation failed")
		respondError(w, r, http.StatusInternalServerError, "Webhook generation failed")
		return
	}

	items := make([]webhookItem, 0, len(ids))
	for _, id := range ids {
		if wh, ok := s.webhooks.Data(id); ok {
			items = append(items, webhookItem{
				ID:             wh.ID,
				URL:            "/webhook/" + wh.ID,
				CreatedAt:      wh.CreatedAt,
				ExpiresAt:      wh.ExpiresAt,
				RetentionHours: wh.RetentionHours,
				ForwardURL:     wh.ForwardURL,
			})
		}
	}

	s.logger.Info().
		Str("event", "api.webhooks.generated").
		Int(log.FieldCount, len(ids)).
		Msg("webhooks generated")

	writeJSON(w, http.StatusCreated, map[string]any{
		"ids":   ids,
		"items": items,
	})
}
