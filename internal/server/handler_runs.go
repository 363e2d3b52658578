package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/rumpsched/internal/scenario"
	"github.com/me/rumpsched/pkg/model"
)

type scenarioInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	DefaultThreads int    `json:"default_threads"`
	DefaultRounds  int    `json:"default_rounds"`
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	var out []scenarioInfo
	for _, sc := range scenario.List() {
		out = append(out, scenarioInfo{
			Name:           sc.Name,
			Description:    sc.Description,
			DefaultThreads: sc.Defaults.Threads,
			DefaultRounds:  sc.Defaults.Rounds,
		})
	}
	respondOK(w, reqID, out)
}

// listOptions reads limit, offset and the filters from the query string.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := model.ParseListOptions(r.URL.Query())

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, opts.Page(total))
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Scenario string `json:"scenario"`
		Threads  int    `json:"threads"`
		Rounds   int    `json:"rounds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	var fieldErrs []model.FieldError
	if req.Scenario == "" {
		fieldErrs = append(fieldErrs, model.FieldError{Field: "scenario", Message: "scenario is required"})
	} else if _, ok := scenario.Lookup(req.Scenario); !ok {
		fieldErrs = append(fieldErrs, model.FieldError{Field: "scenario", Message: "unknown scenario " + req.Scenario})
	}
	if req.Threads < 0 || req.Threads > 256 {
		fieldErrs = append(fieldErrs, model.FieldError{Field: "threads", Message: "threads must be between 0 and 256"})
	}
	if req.Rounds < 0 || req.Rounds > 1000 {
		fieldErrs = append(fieldErrs, model.FieldError{Field: "rounds", Message: "rounds must be between 0 and 1000"})
	}
	if len(fieldErrs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid run request", fieldErrs...))
		return
	}

	// The handler goroutine becomes the boot thread of a fresh machine.
	run, _, err := scenario.Record(r.Context(), s.store, req.Scenario,
		scenario.Params{Threads: req.Threads, Rounds: req.Rounds}, s.config, s.logger)
	if run == nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if err != nil {
		var fe *model.FatalError
		if errors.As(err, &fe) || errors.Is(err, model.ErrNoMemory) {
			// The run itself failed; it is recorded as FAILED.
			s.logger.Warn("run failed", "id", run.ID, "error", err)
		} else {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
	}
	respondRun(w, reqID, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	opts := model.ParseListOptions(r.URL.Query())
	events, total, err := s.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if events == nil {
		events = []model.SwitchEvent{}
	}
	respondList(w, reqID, events, opts.Page(total))
}
