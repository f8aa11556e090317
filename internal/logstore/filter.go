// SPDX-License-Identifier: MIT

package logstore

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxItemsForBatch is the page size used when a filter needs an in-process
// refinement scan (CIDR matching) and by the replay page walk.
const MaxItemsForBatch = 1000

// Condition is a range-capable comparison on one column. Nil members are
// not emitted. Values must already be parsed; the query layer drops
// unparseable input before it gets here.
type Condition struct {
	Eq  any
	Ne  any
	Gt  any
	Gte any
	Lt  any
	Lte any
}

// IsZero reports whether no operator is set.
func (c *Condition) IsZero() bool {
	return c == nil || (c.Eq == nil && c.Ne == nil && c.Gt == nil &&
		c.Gte == nil && c.Lt == nil && c.Lte == nil)
}

// SortField names an entry field and a direction.
type SortField struct {
	Field string
	Desc  bool
}

// Filter selects and orders log entries. String fields left empty match
// everything.
type Filter struct {
	ID        string
	WebhookID string
	Type      string
	Method    string
	RequestID string

	Timestamp      *Condition
	StatusCode     *Condition
	Size           *Condition
	ProcessingTime *Condition

	// Search matches a case-insensitive substring across id and requestUrl.
	Search string

	// RemoteIP is either an exact address or a CIDR block. CIDR blocks are
	// refined in Go over batched scans since SQLite cannot match them.
	RemoteIP string

	// Case-insensitive substring matches.
	ContentType    string
	UserAgent      string
	RequestURL     string
	SignatureError string

	SignatureValid *bool

	// Body and Headers accept either a string (case-insensitive substring
	// over the stored JSON document) or a map of JSON path → expected value
	// probed via json_extract.
	Body    any
	Headers any

	Sort   []SortField
	Limit  int
	Offset int
	Cursor string
}

// sortableColumns is the allow-list of entry fields accepted in Sort.
var sortableColumns = map[string]string{
	"timestamp":      "timestamp",
	"id":             "id",
	"method":         "method",
	"statusCode":     "status_code",
	"size":           "size",
	"remoteIp":       "remote_ip",
	"contentType":    "content_type",
	"processingTime": "processing_time",
	"webhookId":      "webhook_id",
}

// conditionColumns maps range-capable filter fields to their columns.
func (f *Filter) conditions() []struct {
	column string
	cond   *Condition
} {
	return []struct {
		column string
		cond   *Condition
	}{
		{"timestamp", f.Timestamp},
		{"status_code", f.StatusCode},
		{"size", f.Size},
		{"processing_time", f.ProcessingTime},
	}
}

// cidr reports the CIDR block when RemoteIP holds one.
func (f *Filter) cidr() string {
	if strings.Contains(f.RemoteIP, "/") {
		return f.RemoteIP
	}
	return ""
}

// buildWhere renders the filter as a WHERE fragment. The CIDR refinement is
// excluded; callers apply it in Go.
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	eq := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}
	eq("id", f.ID)
	eq("webhook_id", f.WebhookID)
	eq("type", f.Type)
	eq("request_id", f.RequestID)

	if f.Method != "" {
		conds = append(conds, "LOWER(method) = LOWER(?)")
		args = append(args, f.Method)
	}

	for _, c := range f.conditions() {
		if c.cond.IsZero() {
			continue
		}
		ops := []struct {
			sql   string
			value any
		}{
			{" = ?", c.cond.Eq},
			{" != ?", c.cond.Ne},
			{" > ?", c.cond.Gt},
			{" >= ?", c.cond.Gte},
			{" < ?", c.cond.Lt},
			{" <= ?", c.cond.Lte},
		}
		for _, op := range ops {
			if op.value == nil {
				continue
			}
			conds = append(conds, c.column+op.sql)
			args = append(args, op.value)
		}
	}

	if f.Search != "" {
		conds = append(conds, "(LOWER(id) LIKE ? OR LOWER(request_url) LIKE ?)")
		pattern := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, pattern, pattern)
	}

	if f.RemoteIP != "" && f.cidr() == "" {
		conds = append(conds, "remote_ip = ?")
		args = append(args, f.RemoteIP)
	}

	like := func(column, value string) {
		if value != "" {
			conds = append(conds, "LOWER("+column+") LIKE ?")
			args = append(args, "%"+strings.ToLower(value)+"%")
		}
	}
	like("content_type", f.ContentType)
	like("user_agent", f.UserAgent)
	like("request_url", f.RequestURL)
	like("signature_error", f.SignatureError)

	if f.SignatureValid != nil {
		conds = append(conds, "signature_valid = ?")
		if *f.SignatureValid {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	jsonConds, jsonArgs := buildJSONProbe("body", f.Body)
	conds = append(conds, jsonConds...)
	args = append(args, jsonArgs...)
	jsonConds, jsonArgs = buildJSONProbe("headers", f.Headers)
	conds = append(conds, jsonConds...)
	args = append(args, jsonArgs...)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildJSONProbe turns a string into a whole-document substring match and a
// map into per-path json_extract probes. Anything else is ignored.
func buildJSONProbe(column string, probe any) ([]string, []any) {
	switch v := probe.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{"LOWER(" + column + ") LIKE ?"},
			[]any{"%" + strings.ToLower(v) + "%"}
	case map[string]any:
		var conds []string
		var args []any
		for _, key := range sortedKeys(v) {
			path := "$." + key
			if column == "headers" {
				// Header names are stored lowercased.
				path = "$." + strings.ToLower(key)
			}
			conds = append(conds, "json_extract("+column+", ?) = ?")
			args = append(args, path, probeValue(v[key]))
		}
		return conds, args
	default:
		return nil, nil
	}
}

// probeValue narrows probe values to types the driver binds cleanly.
func probeValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case float64, int, int64, string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// sortedKeys keeps probe order deterministic; map iteration is not.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildOrder renders the ORDER BY clause from the sort list, discarding
// fields outside the allow-list. The default is newest first with the id as
// a tiebreaker so pagination is stable.
func buildOrder(fields []SortField) string {
	var parts []string
	for _, s := range fields {
		column, ok := sortableColumns[s.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, column+" "+dir)
	}
	if len(parts) == 0 {
		return " ORDER BY timestamp DESC, id DESC"
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// EncodeCursor packs a (timestamp, id) pair into an opaque page cursor.
func EncodeCursor(tsMs int64, id string) string {
	return base64.RawURLEncoding.EncodeToString(
		[]byte(strconv.FormatInt(tsMs, 10) + ":" + id))
}

// decodeCursor unpacks a cursor. Malformed cursors are reported as not ok
// and the caller falls back to the first page.
func decodeCursor(cursor string) (tsMs int64, id string, ok bool) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", false
	}
	tsPart, idPart, found := strings.Cut(string(raw), ":")
	if !found || idPart == "" {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, idPart, true
}
