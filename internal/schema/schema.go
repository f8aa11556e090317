// SPDX-License-Identifier: MIT

// Package schema validates parsed JSON payloads against the configured
// schema document. The document is compiled once and reused per request.
package schema

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Validator wraps one compiled schema.
type Validator struct {
	schema *openapi3.Schema
}

// Compile parses the schema document and validates the schema itself, so a
// broken configuration fails at load time instead of per request.
func Compile(doc string) (*Validator, error) {
	s := &openapi3.Schema{}
	if err := s.UnmarshalJSON([]byte(doc)); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks a decoded JSON value. The returned error message is safe
// to surface in the rejection response.
func (v *Validator) Validate(value any) error {
	return v.schema.VisitJSON(value)
}
