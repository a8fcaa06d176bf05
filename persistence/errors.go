package persistence

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrCredentialsInvalid = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrValidation         = errors.New("validation failed")
	ErrEmptyImport        = errors.New("empty or malformed CSV")
)

// HTTPError is returned for any non-2xx answer. Fields holds the
// field-to-message map of a validation or conflict response when the body
// carried one.
type HTTPError struct {
	Status int
	Body   string
	Fields map[string]string
}

func (e *HTTPError) Error() string {
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		return fmt.Sprintf("HTTP %d: %s", e.Status, strings.Join(parts, "; "))
	}
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrCredentialsInvalid:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrValidation:
		return e.Status == http.StatusUnprocessableEntity || e.Status == http.StatusBadRequest
	}
	return false
}
