package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"go.uber.org/zap"
)

type StartRequest struct {
	Workflow string         `json:"workflow"`
	Version  int            `json:"version,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type EventRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	var req StartRequest
	if err := decode(r, &req); err != nil || req.Workflow == "" {
		respondWithError(w, http.StatusBadRequest, "workflow is required")
		return
	}
	exec, err := s.engine.StartExecution(r.Context(), tenant, req.Workflow, req.Version, req.Input)
	if err != nil {
		logger.Error("error starting workflow", zap.String("name", req.Workflow), zap.String("tenant", tenant), zap.Error(err))
		respondWithStatusOf(w, err)
		return
	}
	respondOK(w, map[string]any{
		"executionId": exec.ID,
		"version":     exec.WorkflowVersion,
		"state":       exec.CurrentState,
		"status":      exec.Status,
	})
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exec, err := s.engine.GetExecution(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exec)
}

func (s *Server) HandleGetState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, err := s.engine.CurrentState(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondOK(w, map[string]any{"state": st.State, "status": st.Status})
}

func (s *Server) HandleSendEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req EventRequest
	if err := decode(r, &req); err != nil || req.Event == "" {
		respondWithError(w, http.StatusBadRequest, "event is required")
		return
	}
	ev, err := s.engine.SendEvent(r.Context(), vars["tenant"], vars["id"], model.EventDraft{
		EventName: req.Event,
		UserID:    r.Header.Get(UserHeader),
		Payload:   model.SignalPayload{Data: req.Data},
	})
	if err != nil {
		logger.Error("error sending event", zap.String("id", vars["id"]), zap.String("event", req.Event), zap.Error(err))
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"eventId": ev.ID})
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid cancel request")
		return
	}
	ev, err := s.engine.Cancel(r.Context(), vars["tenant"], vars["id"], r.Header.Get(UserHeader), req.Reason)
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"eventId": ev.ID})
}

func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	events, err := s.engine.History(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

func (s *Server) HandleReplay(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.engine.Replay(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.Requeue(r.Context(), vars["tenant"], vars["eventId"]); err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondOK(w, map[string]any{"requeued": true})
}
