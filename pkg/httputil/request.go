package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

var (
	// ErrEmptyBody is returned when a JSON body is required but absent
	ErrEmptyBody = errors.New("request body is required")
	// ErrBodyTooLarge is returned when MaxBytesMiddleware cut the body short
	ErrBodyTooLarge = errors.New("request body too large")
)

// ParseJSON decodes a single JSON value from the request body into dest.
// Trailing data after the value is rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		return classifyDecodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err != nil {
			return classifyDecodeError(err)
		}
		return fmt.Errorf("invalid JSON: unexpected data after the request object")
	}
	return nil
}

func classifyDecodeError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return ErrBodyTooLarge
	case errors.Is(err, io.EOF):
		return ErrEmptyBody
	default:
		return fmt.Errorf("invalid JSON: %w", err)
	}
}

// ParseJSONOrError decodes JSON and writes a 400, or a 413 for oversized
// bodies, on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrBodyTooLarge):
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		WriteBadRequest(w, err.Error())
	}
	return false
}

// ParsePathString extracts a non-blank path parameter, trimmed
func ParsePathString(r *http.Request, key string) (string, error) {
	str := strings.TrimSpace(mux.Vars(r)[key])
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathStringOrError extracts a path parameter and writes a 400 on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// ParseQueryInt parses an integer query parameter, returning defaultVal when
// it is absent
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := strings.TrimSpace(r.URL.Query().Get(key))
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return val, nil
}

// ParseQueryString returns a trimmed query parameter or defaultVal
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := strings.TrimSpace(r.URL.Query().Get(key)); val != "" {
		return val
	}
	return defaultVal
}
