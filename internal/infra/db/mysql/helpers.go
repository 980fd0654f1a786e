package mysql

import (
	"encoding/json"
	"strings"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// dashToEmpty reverses stringOrDash on read.
func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func encodeReport(r *analysis.AggregatedReport) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r)
}

func decodeReport(b []byte) (*analysis.AggregatedReport, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var r analysis.AggregatedReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
