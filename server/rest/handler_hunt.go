package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flock/server/hunt"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/persistence"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateHunt(w http.ResponseWriter, r *http.Request) {
	var spec hunt.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	huntId, err := s.hunts.CreateHunt(r.Context(), spec)
	if err != nil {
		logger.Error("error creating hunt", zap.String("flow", spec.FlowName), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]string{"huntId": huntId})
}

func (s *Server) HandleListHunts(w http.ResponseWriter, r *http.Request) {
	hunts, err := s.hunts.ListHunts(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]any{"hunts": hunts})
}

func (s *Server) HandleGetHunt(w http.ResponseWriter, r *http.Request) {
	huntId := mux.Vars(r)["id"]
	h, err := s.hunts.GetHunt(r.Context(), huntId)
	if err != nil {
		respondHuntError(w, huntId, err)
		return
	}
	respondOK(w, h)
}

func (s *Server) HandleStartHunt(w http.ResponseWriter, r *http.Request) {
	huntId := mux.Vars(r)["id"]
	if err := s.hunts.Start(r.Context(), huntId); err != nil {
		var unknownAttr hunt.UnknownAttributeError
		if errors.As(err, &unknownAttr) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondHuntError(w, huntId, err)
		return
	}
	respondOK(w, map[string]string{"status": "started"})
}

func (s *Server) HandlePauseHunt(w http.ResponseWriter, r *http.Request) {
	huntId := mux.Vars(r)["id"]
	if err := s.hunts.Pause(r.Context(), huntId); err != nil {
		respondHuntError(w, huntId, err)
		return
	}
	respondOK(w, map[string]string{"status": "paused"})
}

func (s *Server) HandleStopHunt(w http.ResponseWriter, r *http.Request) {
	huntId := mux.Vars(r)["id"]
	if err := s.hunts.Stop(r.Context(), huntId); err != nil {
		respondHuntError(w, huntId, err)
		return
	}
	respondOK(w, map[string]string{"status": "stopped"})
}

func respondHuntError(w http.ResponseWriter, huntId string, err error) {
	var notFound persistence.NotFoundError
	if errors.As(err, &notFound) {
		respondWithError(w, http.StatusNotFound, "hunt not found")
		return
	}
	logger.Error("hunt request failed", zap.String("huntId", huntId), zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, err.Error())
}
