package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformedEvent = errors.New("malformed order event")
var ErrUnsupportedEvent = errors.New("unsupported event type")

// ValidationError carries per-field messages and matches ErrMalformedEvent.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}

	return fmt.Sprintf("%s: %s", ErrMalformedEvent, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedEvent
}
