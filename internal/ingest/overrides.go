package ingest

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/demandcast/demandcast/internal/domain"
)

// overridesFile is the on-disk shape of the operator override document.
type overridesFile struct {
	Overrides []overrideEntry `yaml:"overrides"`
}

type overrideEntry struct {
	Date     string  `yaml:"date"`
	Type     string  `yaml:"type"`
	Quantile string  `yaml:"quantile"`
	Value    float64 `yaml:"value"`
}

// LoadOverrides reads the operator override YAML. This file is hand-edited,
// so parsing is strict: any malformed entry fails the load rather than being
// silently dropped. A missing file means no overrides.
func LoadOverrides(path string) ([]domain.OverrideRecord, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}

	records := make([]domain.OverrideRecord, 0, len(file.Overrides))
	for i, entry := range file.Overrides {
		rec, err := entry.toRecord()
		if err != nil {
			return nil, fmt.Errorf("overrides %s entry %d: %w", path, i, err)
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		log.Info().Int("overrides", len(records)).Str("path", path).Msg("Operator overrides loaded")
	}
	return records, nil
}

func (e overrideEntry) toRecord() (domain.OverrideRecord, error) {
	var rec domain.OverrideRecord

	date, err := time.Parse("2006-01-02", e.Date)
	if err != nil {
		return rec, fmt.Errorf("invalid date %q: %w", e.Date, err)
	}
	rec.Date = domain.Day(date)

	switch domain.OverrideType(e.Type) {
	case domain.OverrideAbsolute, domain.OverrideMultiplicative, domain.OverrideForceClosed:
		rec.Type = domain.OverrideType(e.Type)
	default:
		return rec, fmt.Errorf("unknown override type %q", e.Type)
	}

	if rec.Type == domain.OverrideForceClosed {
		if e.Quantile != "" || e.Value != 0 {
			return rec, fmt.Errorf("force_closed takes no quantile or value")
		}
		return rec, nil
	}

	switch domain.OverrideQuantile(e.Quantile) {
	case domain.QuantileP50, domain.QuantileP80, domain.QuantileP90, domain.QuantileAll:
		rec.Quantile = domain.OverrideQuantile(e.Quantile)
	case "":
		rec.Quantile = domain.QuantileAll
	default:
		return rec, fmt.Errorf("unknown quantile %q", e.Quantile)
	}

	if rec.Type == domain.OverrideMultiplicative && e.Value < 0 {
		return rec, fmt.Errorf("multiplicative factor cannot be negative: %f", e.Value)
	}
	rec.Value = e.Value
	return rec, nil
}
