package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	clientId := mux.Vars(r)["id"]
	requests, err := s.clientService.Checkin(r.Context(), clientId)
	if err != nil {
		logger.Error("checkin failed", zap.String("clientId", clientId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]any{"requests": requests})
}

func (s *Server) HandleUpdateAttributes(w http.ResponseWriter, r *http.Request) {
	clientId := mux.Vars(r)["id"]
	var attributes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&attributes); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := s.clientService.UpdateAttributes(r.Context(), clientId, attributes); err != nil {
		logger.Error("attribute update failed", zap.String("clientId", clientId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]string{"status": "ok"})
}

func (s *Server) HandleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	clientId := mux.Vars(r)["id"]
	var resp model.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := s.clientService.SubmitResponse(r.Context(), &resp); err != nil {
		logger.Error("response delivery failed",
			zap.String("clientId", clientId),
			zap.String("sessionId", resp.SessionId),
			zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, map[string]string{"status": "ok"})
}
