package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/core"
	"github.com/vrsandeep/comicvault/internal/jobs"
	"github.com/vrsandeep/comicvault/internal/seed"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := decodeJSON(r, &payload); err != nil || payload.JobName == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	err := s.app.JobManager.RunJob(payload.JobName)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}

func (s *Server) handleGetAdminJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager.GetStatus())
}

type seedRequest struct {
	Entities []string      `json:"entities"`
	Patterns seed.Patterns `json:"patterns"`
	Wait     bool          `json:"wait"`
}

// handleRunSeed starts a seed run. By default it returns 202 with the run
// id; with wait it blocks and returns the report. 500 only means the run as
// a whole failed, never that some records did.
func (s *Server) handleRunSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if wait, err := strconv.ParseBool(r.URL.Query().Get("wait")); err == nil && wait {
		req.Wait = true
	}

	entities, err := seed.ParseEntities(req.Entities)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	patterns := req.Patterns.Merge(s.app.SeedPatterns())
	runID := uuid.NewString()

	var report *seed.RunReport
	task := func(ctx context.Context) error {
		var err error
		report, err = s.app.Seeder.RunAs(ctx, runID, entities, patterns)
		return err
	}

	if !req.Wait {
		if err := s.app.JobManager.RunJobWith(core.SeedJobID, task); err != nil {
			RespondWithError(w, http.StatusConflict, err.Error())
			return
		}
		RespondWithJSON(w, http.StatusAccepted, map[string]string{
			"runId":     runID,
			"statusUrl": "/api/admin/seed/status",
		})
		return
	}

	err = s.app.JobManager.RunWith(r.Context(), core.SeedJobID, task)
	switch {
	case errors.Is(err, jobs.ErrJobRunning):
		RespondWithError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("seed run failed", zap.String("run_id", runID), zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		RespondWithJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleGetSeedStatus(w http.ResponseWriter, r *http.Request) {
	path := s.app.Seeder.StatusPath()
	if path == "" {
		RespondWithError(w, http.StatusNotFound, "Seed status file is disabled")
		return
	}
	status, err := seed.ReadStatus(path)
	if errors.Is(err, seed.ErrNoStatus) {
		RespondWithError(w, http.StatusNotFound, "No seed run recorded yet")
		return
	}
	if err != nil {
		s.logger.Error("read seed status", zap.String("path", path), zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to read seed status")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"running": s.app.JobManager.Running() == core.SeedJobID,
		"status":  status,
	})
}
