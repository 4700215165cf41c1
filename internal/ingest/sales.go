// Package ingest loads the upstream collaborator files: daily sales exports,
// the hours calendar, the event calendar, and operator overrides.
package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/domain"
)

var salesDateFormats = []string{"2006-01-02", "20060102", "01/02/2006", "2006-01-02 15:04:05"}

// LoadSales reads a POS daily-sales CSV into a canonical observation series.
// Column names vary across export versions, so the date column is detected
// (exact "ds", anything containing "date", or the literal "yyyyMMdd") and the
// value column likewise ("y", "net sales" variants, "sales", "revenue").
// Duplicate dates are aggregated by sum before the closed threshold applies.
func LoadSales(path string, closedThreshold float64) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sales csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read sales csv %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("sales csv %s has no data rows", path)
	}

	dateIdx, valueIdx, err := detectSalesColumns(records[0])
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("date_column", records[0][dateIdx]).
		Str("sales_column", records[0][valueIdx]).
		Msg("Detected sales csv columns")

	totals := make(map[time.Time]float64)
	var dropped, duplicates int
	for _, rec := range records[1:] {
		if dateIdx >= len(rec) || valueIdx >= len(rec) {
			dropped++
			continue
		}
		ds, ok := parseSalesDate(rec[dateIdx])
		if !ok {
			dropped++
			continue
		}
		y, ok := parseMoney(rec[valueIdx])
		if !ok {
			dropped++
			continue
		}
		if _, seen := totals[ds]; seen {
			duplicates++
		}
		totals[ds] += y
	}

	if dropped > 0 {
		log.Warn().Int("rows", dropped).Msg("Dropped sales rows with missing or invalid values")
	}
	if duplicates > 0 {
		log.Warn().Int("dates", duplicates).Msg("Duplicate sales dates aggregated by sum")
	}
	if len(totals) == 0 {
		return nil, fmt.Errorf("sales csv %s yielded no usable rows", path)
	}

	series := make(domain.Series, 0, len(totals))
	for ds, y := range totals {
		series = append(series, domain.Observation{DS: ds, Y: y, IsClosed: y < closedThreshold})
	}
	series.Sort()

	if missing := series.MissingDates(); len(missing) > 0 {
		gap := &domain.DataGapError{From: missing[0], To: missing[len(missing)-1], Missing: len(missing)}
		log.Warn().Err(gap).Msg("Sales history has calendar gaps")
	}

	log.Info().
		Int("days", len(series)).
		Time("from", series.Start()).
		Time("through", series.End()).
		Msg("Sales history loaded")
	return series, nil
}

func detectSalesColumns(header []string) (dateIdx, valueIdx int, err error) {
	dateIdx, valueIdx = -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case dateIdx < 0 && (name == "ds" || name == "day" || name == "yyyymmdd" || strings.Contains(name, "date")):
			dateIdx = i
		case name == "y" || (strings.Contains(name, "net") && strings.Contains(name, "sales")):
			valueIdx = i
		case valueIdx < 0 && (strings.Contains(name, "sales") || strings.Contains(name, "revenue")):
			valueIdx = i
		}
	}
	if dateIdx < 0 || valueIdx < 0 {
		return 0, 0, fmt.Errorf("could not identify date/sales columns in header %v", header)
	}
	return dateIdx, valueIdx, nil
}

func parseSalesDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range salesDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Day(t), true
		}
	}
	return time.Time{}, false
}

// parseMoney handles POS export formatting: "$1,234.56", parentheses for
// negatives, stray whitespace.
func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if negative {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// sortInstances orders event instances by start date for stable logs.
func sortInstances(instances []domain.EventInstance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Start.Equal(instances[j].Start) {
			return instances[i].Family < instances[j].Family
		}
		return instances[i].Start.Before(instances[j].Start)
	})
}
