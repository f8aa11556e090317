// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/config"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/logstore"
)

// parseLogFilter translates the /logs query string into a repository
// filter. The translation is forgiving: unknown parameters, unknown
// operators and unparseable values are dropped rather than rejected, so
// a slightly wrong dashboard query still returns data.
func parseLogFilter(r *http.Request, cfg config.Config) logstore.Filter {
	q := r.URL.Query()

	f := logstore.Filter{
		ID:             q.Get("id"),
		WebhookID:      q.Get("webhookId"),
		Type:           q.Get("type"),
		Method:         q.Get("method"),
		RequestID:      q.Get("requestId"),
		Search:         q.Get("search"),
		RemoteIP:       q.Get("remoteIp"),
		ContentType:    q.Get("contentType"),
		UserAgent:      q.Get("userAgent"),
		RequestURL:     q.Get("requestUrl"),
		SignatureError: q.Get("signatureError"),
		Limit:          parseLimit(q.Get("limit"), cfg),
		Offset:         parseOffset(q.Get("offset")),
		Cursor:         q.Get("cursor"),
	}

	if v := q.Get("signatureValid"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.SignatureValid = &b
		}
	}

	// Time window bounds. startTime/endTime accept RFC 3339 or unix
	// milliseconds and fold into the timestamp condition.
	if ts, ok := parseTimeBound(q.Get("startTime")); ok {
		setCondition(&f.Timestamp, "gte", ts)
	}
	if ts, ok := parseTimeBound(q.Get("endTime")); ok {
		setCondition(&f.Timestamp, "lte", ts)
	}

	// Plain equality on the numeric fields.
	for param, target := range numericConditions(&f) {
		if v := q.Get(param); v != "" {
			if n, ok := parseNumeric(param, v); ok {
				setCondition(target, "eq", n)
			}
		}
	}

	// Bracket operators: field[op]=value.
	bodyProbes := map[string]any{}
	headerProbes := map[string]any{}
	for key, values := range q {
		base, op, ok := splitBracketKey(key)
		if !ok || len(values) == 0 {
			continue
		}
		value := values[0]
		switch base {
		case "body":
			bodyProbes[op] = probeLiteral(value)
		case "headers":
			headerProbes[op] = probeLiteral(value)
		default:
			target, known := numericConditions(&f)[base]
			if !known || !validOperator(op) {
				continue
			}
			if n, ok := parseNumeric(base, value); ok {
				setCondition(target, op, n)
			}
		}
	}

	// Body/headers: a bare value is a substring probe over the stored
	// JSON, bracket form probes one path.
	if len(bodyProbes) > 0 {
		f.Body = bodyProbes
	} else if v := q.Get("body"); v != "" {
		f.Body = v
	}
	if len(headerProbes) > 0 {
		f.Headers = headerProbes
	} else if v := q.Get("headers"); v != "" {
		f.Headers = v
	}

	f.Sort = parseSort(q.Get("sort"))

	return f
}

// numericConditions maps query parameter names to their condition slot.
func numericConditions(f *logstore.Filter) map[string]**logstore.Condition {
	return map[string]**logstore.Condition{
		"timestamp":      &f.Timestamp,
		"statusCode":     &f.StatusCode,
		"size":           &f.Size,
		"processingTime": &f.ProcessingTime,
	}
}

func validOperator(op string) bool {
	switch op {
	case "eq", "ne", "gt", "gte", "lt", "lte":
		return true
	}
	return false
}

// setCondition assigns one operator of a lazily allocated condition.
func setCondition(slot **logstore.Condition, op string, value any) {
	if *slot == nil {
		*slot = &logstore.Condition{}
	}
	c := *slot
	switch op {
	case "eq":
		c.Eq = value
	case "ne":
		c.Ne = value
	case "gt":
		c.Gt = value
	case "gte":
		c.Gte = value
	case "lt":
		c.Lt = value
	case "lte":
		c.Lte = value
	}
}

// splitBracketKey decomposes "field[op]" into its parts.
func splitBracketKey(key string) (base, op string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	base = key[:open]
	op = key[open+1 : len(key)-1]
	if op == "" {
		return "", "", false
	}
	return base, op, true
}

// parseNumeric parses a condition value. Timestamps additionally accept
// RFC 3339 and are normalized to unix milliseconds.
func parseNumeric(field, value string) (any, bool) {
	if field == "timestamp" {
		return parseTimeBoundValue(value)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

func parseTimeBound(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	v, ok := parseTimeBoundValue(value)
	if !ok {
		return 0, false
	}
	n, _ := v.(int64)
	return n, ok
}

func parseTimeBoundValue(value string) (any, bool) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli(), true
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, true
	}
	return nil, false
}

// probeLiteral narrows a probe value: booleans and numbers compare
// natively, everything else stays a string.
func probeLiteral(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if fl, err := strconv.ParseFloat(value, 64); err == nil {
		return fl
	}
	return value
}

// parseSort reads "field:dir,field:dir". Direction defaults to
// ascending; unknown fields are dropped by the repository allow-list.
func parseSort(value string) []logstore.SortField {
	if value == "" {
		return nil
	}
	var out []logstore.SortField
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir, _ := strings.Cut(part, ":")
		out = append(out, logstore.SortField{
			Field: field,
			Desc:  strings.EqualFold(dir, "desc"),
		})
	}
	return out
}

func parseLimit(value string, cfg config.Config) int {
	limit := cfg.DefaultPageLimit
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		limit = n
	}
	if limit > cfg.MaxPageLimit {
		limit = cfg.MaxPageLimit
	}
	return limit
}

func parseOffset(value string) int {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return n
	}
	return 0
}

// nextPageURL builds the follow-up link for a list response. Cursor
// pagination drops any offset parameter; the two modes never mix.
func nextPageURL(u *url.URL, limit, offset int, cursor string) string {
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Del("offset")
		q.Set("cursor", cursor)
	} else {
		q.Set("offset", strconv.Itoa(offset))
	}
	next := *u
	next.RawQuery = q.Encode()
	return next.RequestURI()
}
