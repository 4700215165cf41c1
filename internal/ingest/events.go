package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/domain"
)

// LoadEvents reads the recurring-event CSV (event_family, start_date,
// end_date; end may be blank for single-day events) and expands it to a daily
// calendar. A missing file yields an empty calendar, not an error: the
// estimator then simply reports no priors.
func LoadEvents(path string) (*domain.EventCalendar, error) {
	if path == "" {
		return domain.NewEventCalendar(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Event calendar missing, no uplift priors will be computed")
			return domain.NewEventCalendar(nil), nil
		}
		return nil, fmt.Errorf("failed to open events csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read events csv %s: %w", path, err)
	}
	if len(records) < 2 {
		return domain.NewEventCalendar(nil), nil
	}

	familyIdx, startIdx, endIdx := -1, -1, -1
	for i, col := range records[0] {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case strings.Contains(name, "family") || name == "event" || name == "name":
			familyIdx = i
		case strings.Contains(name, "start") || name == "ds":
			startIdx = i
		case strings.Contains(name, "end"):
			endIdx = i
		}
	}
	if familyIdx < 0 || startIdx < 0 {
		return nil, fmt.Errorf("could not identify event columns in header %v", records[0])
	}

	var instances []domain.EventInstance
	var skipped int
	for _, rec := range records[1:] {
		if familyIdx >= len(rec) || startIdx >= len(rec) {
			skipped++
			continue
		}
		family := strings.TrimSpace(rec[familyIdx])
		start, ok := parseSalesDate(rec[startIdx])
		if family == "" || !ok {
			skipped++
			continue
		}
		end := start
		if endIdx >= 0 && endIdx < len(rec) && strings.TrimSpace(rec[endIdx]) != "" {
			if parsed, ok := parseSalesDate(rec[endIdx]); ok {
				end = parsed
			}
		}
		instances = append(instances, domain.EventInstance{Family: family, Start: start, End: end})
	}
	if skipped > 0 {
		log.Warn().Int("rows", skipped).Msg("Skipped malformed event rows")
	}
	sortInstances(instances)

	log.Info().Int("instances", len(instances)).Str("path", path).Msg("Event calendar loaded")
	return domain.NewEventCalendar(instances), nil
}
