package analysis

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
)

var labelRx = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeTarget turns user input such as "https://www.Stripe.com/pricing"
// into a bare registrable host ("stripe.com"). Anything that is not a
// syntactically valid public domain is rejected with ErrInvalidTarget.
func NormalizeTarget(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return "", fmt.Errorf("%w: credentials not allowed in %q", ErrInvalidTarget, raw)
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")

	if len(s) > 253 {
		return "", fmt.Errorf("%w: %q too long", ErrInvalidTarget, raw)
	}
	if net.ParseIP(strings.Trim(s, "[]")) != nil {
		return "", fmt.Errorf("%w: ip addresses are not allowed", ErrInvalidTarget)
	}
	if s == "localhost" || strings.HasSuffix(s, ".localhost") || strings.HasSuffix(s, ".local") || strings.HasSuffix(s, ".internal") {
		return "", fmt.Errorf("%w: internal hosts are not allowed", ErrInvalidTarget)
	}

	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("%w: %q is not a domain", ErrInvalidTarget, raw)
	}
	for _, l := range labels {
		if !labelRx.MatchString(l) {
			return "", fmt.Errorf("%w: bad label %q in %q", ErrInvalidTarget, l, raw)
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 || strings.Trim(tld, "abcdefghijklmnopqrstuvwxyz") != "" {
		return "", fmt.Errorf("%w: bad top-level domain in %q", ErrInvalidTarget, raw)
	}
	return s, nil
}

// NormalizeTargets normalizes every target and rejects duplicates.
func NormalizeTargets(raw []string) ([]string, error) {
	if len(raw) == 0 || len(raw) > 2 {
		return nil, fmt.Errorf("%w: expected 1 or 2 targets, got %d", ErrInvalidTarget, len(raw))
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		t, err := NormalizeTarget(r)
		if err != nil {
			return nil, err
		}
		for _, seen := range out {
			if seen == t {
				return nil, fmt.Errorf("%w: %q compared with itself", ErrInvalidTarget, t)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// CanonicalCapabilities lowercases, dedups and sorts capability ids.
func CanonicalCapabilities(caps []CapabilityID) []CapabilityID {
	seen := make(map[CapabilityID]struct{}, len(caps))
	out := make([]CapabilityID, 0, len(caps))
	for _, c := range caps {
		c = CapabilityID(strings.ToLower(strings.TrimSpace(string(c))))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CacheKey fingerprints normalized targets plus the sorted capability set.
// Target order is significant: "a vs b" and "b vs a" are different reports.
func CacheKey(targets []string, caps []CapabilityID) string {
	canon := CanonicalCapabilities(caps)
	names := make([]string, len(canon))
	for i, c := range canon {
		names[i] = string(c)
	}
	return strings.Join(targets, "|") + "#" + strings.Join(names, ",")
}
