package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flock/server/engine"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/persistence"
	"go.uber.org/zap"
)

type flowRunRequest struct {
	Name     string         `json:"name"`
	ClientId string         `json:"clientId"`
	Args     map[string]any `json:"args,omitempty"`
}

func (s *Server) HandleRunFlow(w http.ResponseWriter, r *http.Request) {
	var runReq flowRunRequest
	if err := json.NewDecoder(r.Body).Decode(&runReq); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	sessionId, err := s.flowService.StartFlow(r.Context(), runReq.Name, runReq.ClientId, runReq.Args)
	if err != nil {
		logger.Error("error running flow", zap.String("name", runReq.Name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"sessionId": sessionId})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	flowCtx, err := s.flowService.GetFlow(r.Context(), sessionId)
	if err != nil {
		respondFlowError(w, sessionId, err)
		return
	}
	respondOK(w, flowCtx)
}

func (s *Server) HandleGetFlowHistory(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	history, err := s.flowService.GetFlowHistory(r.Context(), sessionId)
	if err != nil {
		respondFlowError(w, sessionId, err)
		return
	}
	respondOK(w, history)
}

func (s *Server) HandleHeartBeat(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	if err := s.flowService.HeartBeat(r.Context(), sessionId); err != nil {
		if errors.Is(err, engine.ErrStaleResponse) {
			respondWithError(w, http.StatusConflict, "flow already finished")
			return
		}
		respondFlowError(w, sessionId, err)
		return
	}
	respondOK(w, map[string]string{"status": "ok"})
}

func respondFlowError(w http.ResponseWriter, sessionId string, err error) {
	var notFound persistence.NotFoundError
	if errors.As(err, &notFound) {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return
	}
	logger.Error("flow request failed", zap.String("sessionId", sessionId), zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, err.Error())
}
