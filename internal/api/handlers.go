package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/state"
	"github.com/JakeFAU/docs-archiver/internal/store"
	"github.com/JakeFAU/docs-archiver/internal/taskq"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	handlerTimeout  = 3 * time.Second
)

// getStatus handles GET /api/status. It returns {"state": {...}, "queue":
// {...}} with progress counters and queue occupancy, or 503 while the crawl
// engine has not been wired up.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil || s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State: toStatsDTO(s.state.Stats()),
		Queue: toQueueDTO(s.queue.Status()),
	})
}

// listFailed handles GET /api/failed. It returns {"failed": [...]} with one
// entry per currently failed URL and its recorded reason.
func (s *Server) listFailed(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl status unavailable")
		return
	}
	urls := s.state.FailedURLs()
	out := make([]failedDTO, 0, len(urls))
	for _, u := range urls {
		msg, _ := s.state.FailureMessage(u)
		out = append(out, failedDTO{URL: u, Error: msg})
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": out})
}

// listRuns handles GET /api/runs?limit=. It returns {"runs": [...]} newest
// first, 400 for an invalid limit, 503 when no run repository is configured,
// or 500 if the repository call fails.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

type statusResponse struct {
	State statsDTO `json:"state"`
	Queue queueDTO `json:"queue"`
}

type statsDTO struct {
	Total             int     `json:"total"`
	Processed         int     `json:"processed"`
	Failed            int     `json:"failed"`
	Pending           int     `json:"pending"`
	ImageLoadFailures int     `json:"image_load_failures"`
	SuccessRate       float64 `json:"success_rate"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
}

type queueDTO struct {
	Pending   int  `json:"pending"`
	Running   int  `json:"running"`
	Paused    bool `json:"paused"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
}

type failedDTO struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Error      *string    `json:"error,omitempty"`
}

func toStatsDTO(st state.Stats) statsDTO {
	return statsDTO{
		Total:             st.Total,
		Processed:         st.Processed,
		Failed:            st.Failed,
		Pending:           st.Pending,
		ImageLoadFailures: st.ImageLoadFailures,
		SuccessRate:       st.SuccessRate,
		ElapsedSeconds:    st.Elapsed.Seconds(),
	}
}

func toQueueDTO(qs taskq.Status) queueDTO {
	return queueDTO{
		Pending:   qs.Pending,
		Running:   qs.Running,
		Paused:    qs.Paused,
		Completed: qs.Completed,
		Failed:    qs.Failed,
	}
}

func toRunDTOs(in []store.RunSummary) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.RunSummary) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Succeeded:  run.Counts.Succeeded,
		Failed:     run.Counts.Failed,
		Skipped:    run.Counts.Skipped,
		Error:      run.ErrorMessage,
	}
}
