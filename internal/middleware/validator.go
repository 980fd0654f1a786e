package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

const maxBodyBytes = 64 << 10

var (
	sessionTokenRx = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	capabilityRx   = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)
)

// DecodeJSON reads a bounded JSON body into dst and rejects unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ValidateSessionToken accepts client-chosen tokens of up to 64 URL-safe
// characters. An empty token is valid and means "assign one".
func ValidateSessionToken(token string) error {
	if token == "" {
		return nil
	}
	if !sessionTokenRx.MatchString(token) {
		return fmt.Errorf("invalid session token format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateReportID requires a UUID.
func ValidateReportID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid report ID format")
	}
	return nil
}

// ValidateCapabilityNames checks the shape of capability ids. Whether an id
// is registered is decided by the orchestrator.
func ValidateCapabilityNames(names []string) error {
	for _, n := range names {
		if !capabilityRx.MatchString(strings.ToLower(strings.TrimSpace(n))) {
			return fmt.Errorf("invalid capability name %q", n)
		}
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
