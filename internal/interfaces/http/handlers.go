package http

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/artifacts"
)

const defaultRunsLimit = 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRuns returns recent run logs, newest first, from the database when a
// repo is wired and from run_log.json files otherwise.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		runs []artifacts.RunLog
		err  error
	)
	if s.runs != nil {
		runs, err = s.runs.Recent(r.Context(), limit)
	} else {
		runs, err = scanRunLogs(s.artifactsDir, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load run history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load runs"})
		return
	}
	if runs == nil {
		runs = []artifacts.RunLog{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// scanRunLogs reads <dir>/*/run_log.json, skipping unreadable entries.
func scanRunLogs(dir string, limit int) ([]artifacts.RunLog, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []artifacts.RunLog
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name(), "run_log.json"))
		if err != nil {
			continue
		}
		var rl artifacts.RunLog
		if err := json.Unmarshal(data, &rl); err != nil {
			log.Warn().Str("run", entry.Name()).Err(err).Msg("Skipping malformed run log")
			continue
		}
		runs = append(runs, rl)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
