package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flock/server/hunt"
	"github.com/mohitkumar/flock/server/logger"
	"github.com/mohitkumar/flock/server/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port          int
	flowService   *service.FlowExecutionService
	clientService *service.ClientService
	hunts         *hunt.Orchestrator
}

func NewServer(httpPort int, flowService *service.FlowExecutionService,
	clientService *service.ClientService, hunts *hunt.Orchestrator) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		flowService:   flowService,
		clientService: clientService,
		hunts:         hunts,
		Port:          httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flow/execute", s.HandleRunFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}/history", s.HandleGetFlowHistory).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}/heartbeat", s.HandleHeartBeat).Methods(http.MethodPost)
	router.HandleFunc("/hunt", s.HandleCreateHunt).Methods(http.MethodPost)
	router.HandleFunc("/hunt", s.HandleListHunts).Methods(http.MethodGet)
	router.HandleFunc("/hunt/{id}", s.HandleGetHunt).Methods(http.MethodGet)
	router.HandleFunc("/hunt/{id}/start", s.HandleStartHunt).Methods(http.MethodPost)
	router.HandleFunc("/hunt/{id}/pause", s.HandlePauseHunt).Methods(http.MethodPost)
	router.HandleFunc("/hunt/{id}/stop", s.HandleStopHunt).Methods(http.MethodPost)
	router.HandleFunc("/client/{id}/checkin", s.HandleCheckin).Methods(http.MethodPost)
	router.HandleFunc("/client/{id}/attributes", s.HandleUpdateAttributes).Methods(http.MethodPut)
	router.HandleFunc("/client/{id}/response", s.HandleSubmitResponse).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("startting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
