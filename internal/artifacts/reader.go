package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// LatestRunDir returns the run directory under baseDir with the newest
// run_log.json, or "" when no completed run exists.
func LatestRunDir(baseDir string) (string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var best string
	var bestTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(baseDir, entry.Name(), "run_log.json"))
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = filepath.Join(baseDir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	return best, nil
}

// ReadWeights loads a run's weights.json.
func ReadWeights(runDir string) (*domain.WeightSet, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "weights.json"))
	if err != nil {
		return nil, err
	}
	var ws domain.WeightSet
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse weights.json: %w", err)
	}
	return &ws, nil
}

// ReadPredictions loads every predictions_<model>.csv in a run directory.
func ReadPredictions(runDir string) ([]domain.PredictionRow, error) {
	matches, err := filepath.Glob(filepath.Join(runDir, "predictions_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var rows []domain.PredictionRow
	for _, path := range matches {
		fileRows, err := readPredictionFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

func readPredictionFile(path string) ([]domain.PredictionRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	rows := make([]domain.PredictionRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 11 {
			return nil, fmt.Errorf("prediction row has %d columns, want 11", len(rec))
		}
		row, err := parsePredictionRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parsePredictionRecord(rec []string) (domain.PredictionRow, error) {
	var row domain.PredictionRow
	var err error

	if row.Cutoff, err = time.Parse(dateLayout, rec[0]); err != nil {
		return row, fmt.Errorf("bad cutoff %q: %w", rec[0], err)
	}
	row.ModelName = rec[1]
	if row.IssueDate, err = time.Parse(dateLayout, rec[2]); err != nil {
		return row, fmt.Errorf("bad issue_date %q: %w", rec[2], err)
	}
	if row.TargetDate, err = time.Parse(dateLayout, rec[3]); err != nil {
		return row, fmt.Errorf("bad target_date %q: %w", rec[3], err)
	}
	if row.Horizon, err = strconv.Atoi(rec[4]); err != nil {
		return row, fmt.Errorf("bad horizon %q: %w", rec[4], err)
	}
	row.HorizonBucket = domain.HorizonBucket(rec[5])
	if row.P50, err = strconv.ParseFloat(rec[6], 64); err != nil {
		return row, fmt.Errorf("bad p50 %q: %w", rec[6], err)
	}
	if row.P80, err = strconv.ParseFloat(rec[7], 64); err != nil {
		return row, fmt.Errorf("bad p80 %q: %w", rec[7], err)
	}
	if row.P90, err = strconv.ParseFloat(rec[8], 64); err != nil {
		return row, fmt.Errorf("bad p90 %q: %w", rec[8], err)
	}
	if row.Y, err = strconv.ParseFloat(rec[9], 64); err != nil {
		return row, fmt.Errorf("bad y %q: %w", rec[9], err)
	}
	if row.IsClosed, err = strconv.ParseBool(rec[10]); err != nil {
		return row, fmt.Errorf("bad is_closed %q: %w", rec[10], err)
	}
	return row, nil
}
