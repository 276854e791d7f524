package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
)

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var fl model.Workflow
	if err := decode(r, &fl); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid workflow definition: "+err.Error())
		return
	}
	wf, err := s.metadataService.RegisterFlow(r.Context(), fl)
	if err != nil {
		logger.Error("error registering workflow", zap.String("name", fl.Name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"created": true, "name": wf.Name, "version": wf.Version})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowName := mux.Vars(r)["name"]
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "version should be a positive number")
			return
		}
		version = n
	}
	wf, err := s.metadataService.GetMetadataStorage().GetWorkflowDefinition(r.Context(), flowName, version)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("name", flowName), zap.Int("version", version))
		respondWithStatusOf(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleListActions(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.registry.List())
}
