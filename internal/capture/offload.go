// SPDX-License-Identifier: MIT

package capture

// Offload markers. A capture body shaped {"data": <marker>, "key": <key>}
// signals that the raw bytes live in the payload store under key. SYNC marks
// bodies that were buffered before offload, STREAM marks bodies that were
// spooled while still arriving.
const (
	OffloadMarkerSync   = "__OFFLOADED_SYNC__"
	OffloadMarkerStream = "__OFFLOADED_STREAM__"
)

// OffloadDescriptor is the inline stand-in for an offloaded body.
type OffloadDescriptor struct {
	Data string `json:"data"`
	Key  string `json:"key"`
}

// NewOffloadDescriptor builds the descriptor stored in place of the body.
func NewOffloadDescriptor(key string) OffloadDescriptor {
	return OffloadDescriptor{Data: OffloadMarkerSync, Key: key}
}

// IsOffloadMarker reports whether v is one of the two documented markers.
func IsOffloadMarker(v string) bool {
	return v == OffloadMarkerSync || v == OffloadMarkerStream
}

// AsOffloadDescriptor inspects a decoded body value and, when it matches the
// descriptor shape, returns the payload key.
func AsOffloadDescriptor(body any) (key string, ok bool) {
	switch d := body.(type) {
	case OffloadDescriptor:
		return d.Key, IsOffloadMarker(d.Data)
	case *OffloadDescriptor:
		if d == nil {
			return "", false
		}
		return d.Key, IsOffloadMarker(d.Data)
	case map[string]any:
		marker, _ := d["data"].(string)
		k, _ := d["key"].(string)
		if IsOffloadMarker(marker) && k != "" {
			return k, true
		}
	}
	return "", false
}
