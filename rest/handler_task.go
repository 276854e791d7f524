package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eventflow/logger"
	"go.uber.org/zap"
)

type CompleteRequest struct {
	ResponseData map[string]any `json:"responseData,omitempty"`
}

func (s *Server) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, err := s.tasks.Get(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

func (s *Server) HandleTaskHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	history, err := s.tasks.History(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (s *Server) HandleClaimTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := r.Header.Get(UserHeader)
	if user == "" {
		respondWithError(w, http.StatusBadRequest, UserHeader+" header is required")
		return
	}
	task, err := s.tasks.Claim(r.Context(), vars["tenant"], vars["id"], user)
	if err != nil {
		logger.Info("task claim rejected", zap.String("taskId", vars["id"]), zap.String("user", user), zap.Error(err))
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

func (s *Server) HandleCompleteTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := r.Header.Get(UserHeader)
	if user == "" {
		respondWithError(w, http.StatusBadRequest, UserHeader+" header is required")
		return
	}
	var req CompleteRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid completion: "+err.Error())
		return
	}
	task, err := s.tasks.Complete(r.Context(), vars["tenant"], vars["id"], user, req.ResponseData)
	if err != nil {
		logger.Info("task completion rejected", zap.String("taskId", vars["id"]), zap.String("user", user), zap.Error(err))
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

func (s *Server) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid cancel request")
		return
	}
	task, err := s.tasks.Cancel(r.Context(), vars["tenant"], vars["id"], r.Header.Get(UserHeader), req.Reason)
	if err != nil {
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}
