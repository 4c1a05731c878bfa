// Package api provides HTTP handlers for step-timer endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tenderdesk/steptimer/internal/models"
)

// startRequest is the optional body of a start call.
type startRequest struct {
	// AllocatedMs overrides the step definition's default SLA budget when
	// positive.
	AllocatedMs int64 `json:"allocated_ms"`
}

// timerPath extracts the timer identity from the request path.
func timerPath(r *http.Request) (models.EntityType, string, string) {
	return models.EntityType(r.PathValue("entityType")), r.PathValue("entityID"), r.PathValue("stepKey")
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	entityType, entityID, stepKey := timerPath(r)
	slog.Debug("Server.startHandler: processing start request", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.startHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.AllocatedMs < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("allocated_ms must not be negative"))
		return
	}

	snap, err := s.engine.Start(r.Context(), entityType, entityID, stepKey, req.AllocatedMs)
	if err != nil {
		slog.Warn("Server.startHandler: start failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		writeEngineError(w, err)
		return
	}
	slog.Info("Server.startHandler: timer started", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, stepKey := timerPath(r)
	snap, err := s.engine.Pause(r.Context(), entityType, entityID, stepKey)
	if err != nil {
		slog.Warn("Server.pauseHandler: pause failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		writeEngineError(w, err)
		return
	}
	slog.Info("Server.pauseHandler: timer paused", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, stepKey := timerPath(r)
	snap, err := s.engine.Resume(r.Context(), entityType, entityID, stepKey)
	if err != nil {
		slog.Warn("Server.resumeHandler: resume failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		writeEngineError(w, err)
		return
	}
	slog.Info("Server.resumeHandler: timer resumed", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, stepKey := timerPath(r)
	snap, err := s.engine.Complete(r.Context(), entityType, entityID, stepKey)
	if err != nil {
		slog.Warn("Server.completeHandler: complete failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		writeEngineError(w, err)
		return
	}
	slog.Info("Server.completeHandler: timer completed", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, stepKey := timerPath(r)
	slog.Debug("Server.snapshotHandler: processing snapshot request", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)

	snap, err := s.engine.GetSnapshot(r.Context(), entityType, entityID, stepKey)
	if err != nil {
		slog.Warn("Server.snapshotHandler: snapshot failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		writeEngineError(w, err)
		return
	}

	def, err := s.registry.Definition(entityType, stepKey)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(BuildTimerView(def, snap)))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(r.PathValue("entityType"))
	entityID := r.PathValue("entityID")
	slog.Debug("Server.statusHandler: processing status request", "entityType", entityType, "entityID", entityID)

	status, err := s.assembler.StatusFor(r.Context(), entityType, entityID)
	if err != nil {
		slog.Error("Server.statusHandler: status failed", "error", err, "entityType", entityType, "entityID", entityID)
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) currentStepHandler(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(r.PathValue("entityType"))
	entityID := r.PathValue("entityID")

	step, ok, err := s.assembler.CurrentStep(r.Context(), entityType, entityID)
	if err != nil {
		slog.Error("Server.currentStepHandler: lookup failed", "error", err, "entityType", entityType, "entityID", entityID)
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("workflow has no pending steps", nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(step))
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(r.PathValue("entityType"))
	slog.Debug("Server.sweepHandler: processing sweep request", "entityType", entityType)

	count, err := s.engine.SweepExpired(r.Context(), entityType)
	if err != nil {
		slog.Error("Server.sweepHandler: sweep failed", "error", err, "entityType", entityType)
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"expired": count}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
