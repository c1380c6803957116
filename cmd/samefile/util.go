package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/deduper"
	"github.com/ivoronin/samefile/internal/report"
)

// parseSize parses a human-readable size string into bytes.
// Supports formats: "100", "1K", "1MB", "1GiB", etc.
func parseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if bytes > 1<<62 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(bytes), nil
}

// parseSizeFlag is parseSize with an empty string meaning 0.
func parseSizeFlag(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return parseSize(s)
}

// validateGlobPatterns checks that all patterns are valid filepath.Match patterns.
func validateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// formatResult renders the closing line after an action ran.
func formatResult(kind deduper.ActionKind, r deduper.Result, dryRun bool) string {
	prefix := ""
	if dryRun {
		prefix = deduper.DryRunPrefix
	}
	msg := fmt.Sprintf("%s%s: %s duplicates, %s reclaimed", prefix, kind,
		humanize.Comma(int64(r.Applied)), report.FormatSize(r.SavedBytes))
	if r.AlreadyCloned > 0 {
		msg += fmt.Sprintf(", %d already cloned", r.AlreadyCloned)
	}
	if r.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	if r.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", r.Failed)
	}
	return msg
}
