package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

func printHeader(targets []string, caps []analysis.CapabilityID) {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("🔍 %s\n", strings.Join(targets, " vs "))
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	fmt.Printf("   %s\n\n", color.HiBlackString(strings.Join(names, ", ")))
}

func printProgress(ev analysis.ProgressEvent) {
	mark := color.GreenString("✓")
	if ev.Status != analysis.StatusOk {
		mark = color.RedString("✗")
	}
	fmt.Printf("%s %-12s %3d%%\n", mark, ev.CapabilityID, ev.Progress)
}

func printSuccess(msg string) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), msg)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), msg)
}

// printReport writes the human-readable report.
func printReport(w io.Writer, r *analysis.AggregatedReport) {
	status := color.New(color.FgGreen, color.Bold)
	switch r.OverallStatus {
	case analysis.OverallPartial:
		status = color.New(color.FgYellow, color.Bold)
	case analysis.OverallFailed:
		status = color.New(color.FgRed, color.Bold)
	}
	fmt.Fprintf(w, "\n%s %s\n", color.New(color.Bold).Sprint("Overall:"), status.Sprint(r.OverallStatus))

	for _, res := range r.Results {
		fmt.Fprintln(w)
		if !res.OK() {
			fmt.Fprintf(w, "%s  %s (%s)\n", color.New(color.Bold).Sprint(res.CapabilityID), color.RedString(string(res.Status)), res.Reason)
			if res.Message != "" {
				fmt.Fprintf(w, "   %s\n", color.HiBlackString(res.Message))
			}
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprint(res.CapabilityID), scoreColor(res.ScoreValue()).Sprintf("%.0f/100", res.ScoreValue()))
		for _, f := range res.Findings {
			fmt.Fprintf(w, "   %s %s\n", severityColor(f.Severity).Sprintf("[%s]", f.Severity), f.Summary)
			if f.EstimatedImpact != "" {
				fmt.Fprintf(w, "      %s\n", color.HiBlackString(f.EstimatedImpact))
			}
		}
	}
}

func printSummary(w io.Writer, text string) {
	fmt.Fprintf(w, "\n%s\n%s\n", color.New(color.FgCyan, color.Bold).Sprint("Summary"), text)
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// round-trip through JSON so yaml keys match the API field names
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q (human, json, yaml)", format)
	}
}

func severityColor(s analysis.Severity) *color.Color {
	switch s {
	case analysis.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case analysis.SeverityHigh:
		return color.New(color.FgRed)
	case analysis.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return color.New(color.FgGreen, color.Bold)
	case score >= 50:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
