// Package cli holds flag parsing and console output shared by the
// command-line entry points.
package cli

import (
	"flag"
	"fmt"
	"time"
)

const dateFormat = "2006-01-02"

// MatchFlags are the flags for the match command
type MatchFlags struct {
	ConfigPath string
	DateFrom   string
	DateTo     string
	DryRun     bool
	Verbose    bool
}

// ParseMatchFlags parses match command flags from the command line
func ParseMatchFlags() MatchFlags {
	var flags MatchFlags
	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&flags.DateFrom, "date-from", "", "Start of the date range (YYYY-MM-DD)")
	flag.StringVar(&flags.DateTo, "date-to", "", "End of the date range (YYYY-MM-DD, default: today)")
	flag.BoolVar(&flags.DryRun, "dry-run", false, "Match without uploading or attaching receipts")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Verbose output")
	flag.Parse()
	return flags
}

// DateRange resolves the flags into a concrete date range. An empty
// -date-to means today; an empty -date-from falls back the given number
// of days from the range end.
func (f MatchFlags) DateRange(fallbackDays int) (time.Time, time.Time, error) {
	to := time.Now()
	if f.DateTo != "" {
		parsed, err := time.Parse(dateFormat, f.DateTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -date-to %q: %w", f.DateTo, err)
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -fallbackDays)
	if f.DateFrom != "" {
		parsed, err := time.Parse(dateFormat, f.DateFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -date-from %q: %w", f.DateFrom, err)
		}
		from = parsed
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range is reversed: %s is after %s",
			from.Format(dateFormat), to.Format(dateFormat))
	}
	return from, to, nil
}
