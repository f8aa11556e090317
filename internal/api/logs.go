// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
)

// listItem decorates a stored event with its detail link.
type listItem struct {
	capture.Event
	DetailURL string `json:"detailUrl"`
}

// logListResponse is the offset-paginated /logs envelope.
type logListResponse struct {
	Items       []listItem `json:"items"`
	Total       int        `json:"total"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
	NextPageURL string     `json:"nextPageUrl,omitempty"`
}

// logCursorResponse is the cursor-paginated /logs envelope.
type logCursorResponse struct {
	Items       []listItem `json:"items"`
	Limit       int        `json:"limit"`
	NextCursor  string     `json:"nextCursor,omitempty"`
	NextPageURL string     `json:"nextPageUrl,omitempty"`
}

// handleListLogs serves the query API. A cursor parameter switches to
// keyset pagination; otherwise classic offset paging with a total count
// is used.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Get()
	f := parseLogFilter(r, cfg)

	if f.Cursor != "" {
		page, err := s.logs.FindLogsCursor(r.Context(), f)
		if err != nil {
			s.logQueryError(r, err)
			respondError(w, r, http.StatusInternalServerError, "Log query failed")
			return
		}
		resp := logCursorResponse{
			Items:      decorate(page.Items),
			Limit:      f.Limit,
			NextCursor: page.NextCursor,
		}
		if page.NextCursor != "" {
			resp.NextPageURL = nextPageURL(r.URL, f.Limit, 0, page.NextCursor)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	items, total, err := s.logs.FindLogs(r.Context(), f)
	if err != nil {
		s.logQueryError(r, err)
		respondError(w, r, http.StatusInternalServerError, "Log query failed")
		return
	}
	resp := logListResponse{
		Items:  decorate(items),
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	if f.Offset+len(items) < total {
		resp.NextPageURL = nextPageURL(r.URL, f.Limit, f.Offset+f.Limit, "")
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetLog returns one entry. A ?fields= list projects the entry
// down to the named fields; ownership is checked either way, so logs of
// expired webhooks are as invisible as if they were already swept.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fields := parseFields(r.URL.Query().Get("fields"))

	if len(fields) == 0 {
		ev, err := s.logs.GetLogByID(r.Context(), id)
		if err != nil {
			s.logQueryError(r, err)
			respondError(w, r, http.StatusInternalServerError, "Log lookup failed")
			return
		}
		if ev == nil || !s.webhooks.IsValid(ev.WebhookID) {
			respondError(w, r, http.StatusNotFound, msgLogNotFound)
			return
		}
		writeJSON(w, http.StatusOK, ev)
		return
	}

	// webhookId rides along for the ownership check even when not
	// requested, and is stripped again before the response.
	requested := slices.Contains(fields, "webhookId")
	lookup := fields
	if !requested {
		lookup = append(append([]string{}, fields...), "webhookId")
	}

	m, err := s.logs.GetLogFields(r.Context(), id, lookup)
	if err != nil {
		s.logQueryError(r, err)
		respondError(w, r, http.StatusInternalServerError, "Log lookup failed")
		return
	}
	if m == nil {
		respondError(w, r, http.StatusNotFound, msgLogNotFound)
		return
	}
	owner, _ := m["webhookId"].(string)
	if !s.webhooks.IsValid(owner) {
		respondError(w, r, http.StatusNotFound, msgLogNotFound)
		return
	}
	if !requested {
		delete(m, "webhookId")
	}
	writeJSON(w, http.StatusOK, m)
}

// handleGetPayload serves the raw body of one capture: offloaded bodies
// are fetched back from keyed storage, JSON bodies re-encode as JSON,
// string bodies go out as text.
func (s *Server) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := s.logs.GetLogByID(r.Context(), id)
	if err != nil {
		s.logQueryError(r, err)
		respondError(w, r, http.StatusInternalServerError, "Log lookup failed")
		return
	}
	if ev == nil || !s.webhooks.IsValid(ev.WebhookID) {
		respondError(w, r, http.StatusNotFound, msgLogNotFound)
		return
	}

	data, offloaded, err := s.payloads.Rehydrate(r.Context(), ev.Body)
	if err != nil {
		s.logQueryError(r, err)
		respondError(w, r, http.StatusInternalServerError, "Payload fetch failed")
		return
	}
	if offloaded {
		if data == nil {
			respondError(w, r, http.StatusNotFound, msgPayloadNotFound)
			return
		}
		w.Header().Set("Content-Type", payloadContentType(ev.ContentType, "application/octet-stream"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	switch body := ev.Body.(type) {
	case nil:
		respondError(w, r, http.StatusNotFound, msgPayloadNotFound)
	case string:
		w.Header().Set("Content-Type", payloadContentType(ev.ContentType, "text/plain; charset=utf-8"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (s *Server) logQueryError(r *http.Request, err error) {
	s.logger.Error().
		Str("event", "api.logs.query_failed").
		Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
		Str(log.FieldPath, r.URL.Path).
		Err(err).
		Msg("log repository error")
}

func decorate(items []capture.Event) []listItem {
	out := make([]listItem, len(items))
	for i, ev := range items {
		out[i] = listItem{Event: ev, DetailURL: "/logs/" + ev.ID}
	}
	return out
}

func parseFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func payloadContentType(captured, fallback string) string {
	if captured != "" {
		return captured
	}
	return fallback
}
