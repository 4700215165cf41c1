package models

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/demandcast/demandcast/internal/domain"
)

// QuantileGBM serves predictions produced by the offline-trained
// gradient-boosted quantile model. Training happens outside this repo; the
// artifact is a CSV of (issue_date, ds, p50, p80, p90) rows and this wrapper
// only looks them up. Without an artifact the model reports itself
// unavailable and the harness skips it.
type QuantileGBM struct {
	artifactPath string
	points       map[time.Time]map[time.Time]domain.QuantilePoint // issue -> ds -> point
	loaded       bool
}

// NewQuantileGBM returns a wrapper over the given artifact path.
func NewQuantileGBM(artifactPath string) *QuantileGBM {
	return &QuantileGBM{artifactPath: artifactPath}
}

func (m *QuantileGBM) Name() string { return NameQuantileGBM }

// Fit loads the artifact once. The training series is unused: leakage safety
// is the artifact producer's obligation, keyed by issue_date.
func (m *QuantileGBM) Fit(_ context.Context, _ domain.Series) error {
	if m.loaded {
		return nil
	}
	if m.artifactPath == "" {
		return fmt.Errorf("quantile_gbm: no artifact configured")
	}
	f, err := os.Open(m.artifactPath)
	if err != nil {
		return fmt.Errorf("quantile_gbm: artifact unavailable: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("quantile_gbm: failed to read artifact: %w", err)
	}
	if len(records) < 2 {
		return fmt.Errorf("quantile_gbm: artifact %s is empty", m.artifactPath)
	}

	m.points = make(map[time.Time]map[time.Time]domain.QuantilePoint)
	for _, rec := range records[1:] {
		if len(rec) < 5 {
			continue
		}
		issue, err1 := time.Parse("2006-01-02", rec[0])
		ds, err2 := time.Parse("2006-01-02", rec[1])
		p50, err3 := strconv.ParseFloat(rec[2], 64)
		p80, err4 := strconv.ParseFloat(rec[3], 64)
		p90, err5 := strconv.ParseFloat(rec[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		issue, ds = domain.Day(issue), domain.Day(ds)
		if m.points[issue] == nil {
			m.points[issue] = make(map[time.Time]domain.QuantilePoint)
		}
		m.points[issue][ds] = domain.QuantilePoint{DS: ds, P50: p50, P80: p80, P90: p90}
	}
	m.loaded = true
	return nil
}

// Predict returns the artifact rows for the issue date. Dates the artifact
// lacks are omitted; the assembler renormalizes weights over present models.
func (m *QuantileGBM) Predict(_ context.Context, issueDate time.Time, targetDates []time.Time) ([]domain.QuantilePoint, error) {
	if !m.loaded {
		return nil, fmt.Errorf("quantile_gbm: predict before fit")
	}
	byDS := m.points[domain.Day(issueDate)]
	if byDS == nil {
		return nil, fmt.Errorf("quantile_gbm: artifact has no issue date %s", issueDate.Format("2006-01-02"))
	}
	points := make([]domain.QuantilePoint, 0, len(targetDates))
	for _, ds := range targetDates {
		if point, ok := byDS[domain.Day(ds)]; ok {
			points = append(points, point)
		}
	}
	return points, nil
}
