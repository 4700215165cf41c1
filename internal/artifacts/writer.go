package artifacts

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/backtest"
	"github.com/demandcast/demandcast/internal/domain"
)

const dateLayout = "2006-01-02"

// Writer emits all run artifacts under <baseDir>/<runID>/ and remembers what
// it wrote for the run log.
type Writer struct {
	dir     string
	written []string
}

// NewWriter returns a writer rooted at <baseDir>/<runID>.
func NewWriter(baseDir, runID string) *Writer {
	return &Writer{dir: filepath.Join(baseDir, runID)}
}

// Dir returns the run's output directory.
func (w *Writer) Dir() string { return w.dir }

// Written lists the relative names of every artifact emitted so far.
func (w *Writer) Written() []string {
	out := make([]string, len(w.written))
	copy(out, w.written)
	return out
}

func (w *Writer) csv(name string, header []string, records [][]string) error {
	path := filepath.Join(w.dir, name)
	if err := WriteCSVAtomic(path, header, records); err != nil {
		return err
	}
	w.written = append(w.written, name)
	log.Debug().Str("artifact", name).Int("rows", len(records)).Msg("Artifact written")
	return nil
}

func (w *Writer) json(name string, v any) error {
	path := filepath.Join(w.dir, name)
	if err := WriteJSONAtomic(path, v); err != nil {
		return err
	}
	w.written = append(w.written, name)
	log.Debug().Str("artifact", name).Msg("Artifact written")
	return nil
}

// WritePredictions splits the backtest rows by model and writes one
// predictions_<model>.csv per model.
func (w *Writer) WritePredictions(rows []domain.PredictionRow) error {
	byModel := make(map[string][]domain.PredictionRow)
	for _, row := range rows {
		byModel[row.ModelName] = append(byModel[row.ModelName], row)
	}
	models := make([]string, 0, len(byModel))
	for name := range byModel {
		models = append(models, name)
	}
	sort.Strings(models)

	header := []string{"cutoff", "model_name", "issue_date", "target_date", "horizon", "horizon_bucket", "p50", "p80", "p90", "y", "is_closed"}
	for _, name := range models {
		records := make([][]string, 0, len(byModel[name]))
		for _, row := range byModel[name] {
			records = append(records, []string{
				row.Cutoff.Format(dateLayout),
				row.ModelName,
				row.IssueDate.Format(dateLayout),
				row.TargetDate.Format(dateLayout),
				strconv.Itoa(row.Horizon),
				string(row.HorizonBucket),
				fnum(row.P50),
				fnum(row.P80),
				fnum(row.P90),
				fnum(row.Y),
				strconv.FormatBool(row.IsClosed),
			})
		}
		if err := w.csv("predictions_"+name+".csv", header, records); err != nil {
			return err
		}
	}
	return nil
}

// WriteWeights writes the fitted weight set as weights.json.
func (w *Writer) WriteWeights(ws *domain.WeightSet) error {
	return w.json("weights.json", ws)
}

// WritePriors writes the event uplift prior table, sorted by family.
func (w *Writer) WritePriors(priors map[string]domain.UpliftPrior) error {
	families := make([]string, 0, len(priors))
	for f := range priors {
		families = append(families, f)
	}
	sort.Strings(families)

	records := make([][]string, 0, len(families))
	for _, f := range families {
		p := priors[f]
		records = append(records, []string{
			p.EventFamily,
			fnumPtr(p.UpliftMeanRaw),
			fnumPtr(p.UpliftMeanShrunk),
			strconv.Itoa(p.NDays),
			string(p.Confidence),
		})
	}
	header := []string{"event_family", "uplift_mean_raw", "uplift_mean_shrunk", "n_days", "confidence_bucket"}
	return w.csv("uplift_priors.csv", header, records)
}

// WriteForecast writes the final daily forecast.
func (w *Writer) WriteForecast(rows []domain.ForecastRow) error {
	header := []string{"ds", "p50", "p80", "p90", "is_closed", "open_minutes", "data_through"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.DS.Format(dateLayout),
			fnum(row.P50),
			fnum(row.P80),
			fnum(row.P90),
			strconv.FormatBool(row.IsClosed),
			strconv.Itoa(row.OpenMinutes),
			row.DataThrough.Format(dateLayout),
		})
	}
	return w.csv("forecast_daily.csv", header, records)
}

// WriteBucketMetrics writes per-(model, bucket) backtest accuracy.
func (w *Writer) WriteBucketMetrics(ms []backtest.BucketMetrics) error {
	header := []string{"model_name", "horizon_bucket", "rows", "wmape", "rmse", "bias"}
	records := make([][]string, 0, len(ms))
	for _, m := range ms {
		records = append(records, []string{
			m.ModelName,
			string(m.HorizonBucket),
			strconv.Itoa(m.Rows),
			fratio(m.WMAPE),
			fnum(m.RMSE),
			fratio(m.Bias),
		})
	}
	return w.csv("metrics_buckets.csv", header, records)
}

// WritePeakMetrics writes per-model peak-day accuracy.
func (w *Writer) WritePeakMetrics(ms []backtest.PeakMetrics) error {
	header := []string{"model_name", "threshold", "peak_days", "underprediction_rate", "p80_coverage", "p90_coverage", "mase"}
	records := make([][]string, 0, len(ms))
	for _, m := range ms {
		records = append(records, []string{
			m.ModelName,
			fnum(m.Threshold),
			strconv.Itoa(m.PeakDays),
			fratio(m.UnderpredictionRate),
			fratio(m.P80Coverage),
			fratio(m.P90Coverage),
			fratio(m.MASE),
		})
	}
	return w.csv("metrics_peaks.csv", header, records)
}

// WriteOrderingRollup writes the purchasing rollup windows.
func (w *Writer) WriteOrderingRollup(rows []domain.ForecastRow) error {
	return w.rollup("forecast_ordering.csv", OrderingRollups(rows))
}

// WriteSchedulingRollup writes the labor scheduling week rollups.
func (w *Writer) WriteSchedulingRollup(rows []domain.ForecastRow) error {
	return w.rollup("forecast_scheduling.csv", SchedulingRollups(rows))
}

func (w *Writer) rollup(name string, windows []RollupRow) error {
	header := []string{"window_type", "window_start", "window_end", "days", "p50_total", "p80_total", "p90_total", "note"}
	records := make([][]string, 0, len(windows))
	for _, win := range windows {
		records = append(records, []string{
			win.WindowType,
			win.Start.Format(dateLayout),
			win.End.Format(dateLayout),
			strconv.Itoa(win.Days),
			fnum(win.P50),
			fnum(win.P80),
			fnum(win.P90),
			win.Note,
		})
	}
	return w.csv(name, header, records)
}

// WriteRunLog writes run_log.json. Call last: the artifact list snapshots
// everything written before it.
func (w *Writer) WriteRunLog(rl RunLog) error {
	rl.Artifacts = append(w.Written(), "run_log.json")
	return WriteJSONAtomic(filepath.Join(w.dir, "run_log.json"), rl)
}

func fnum(v float64) string   { return strconv.FormatFloat(v, 'f', 2, 64) }
func fratio(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func fnumPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
