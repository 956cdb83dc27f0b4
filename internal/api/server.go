// Package api wires EnergyGuard's HTTP surface: bearer-token auth,
// JSON request/response envelopes, and the route table over
// internal/replication.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"energyguard/internal/observability"
	"energyguard/internal/replication"
)

// Server is EnergyGuard's HTTP boundary. It implements http.Handler.
type Server struct {
	router  *mux.Router
	manager *replication.Manager
	metrics *observability.Metrics
	log     logrus.FieldLogger

	apiToken string
	limiter  *rate.Limiter
}

// NewServer builds the route table over manager, guarded by apiToken.
// A nil limiter disables ingestion rate limiting.
func NewServer(manager *replication.Manager, metrics *observability.Metrics, apiToken string, limiter *rate.Limiter, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		router:   mux.NewRouter(),
		manager:  manager,
		metrics:  metrics,
		log:      log,
		apiToken: apiToken,
		limiter:  limiter,
	}

	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	s.router.Handle("/ingest", s.authed(s.handleIngest)).Methods(http.MethodPost)
	s.router.Handle("/measurement/{key}", s.authed(s.handleGetMeasurement)).Methods(http.MethodGet)
	s.router.Handle("/delete/{key}", s.authed(s.handleDelete)).Methods(http.MethodDelete)
	s.router.Handle("/fail_node/{id:[0-9]+}", s.authed(s.handleFailNode)).Methods(http.MethodPost)
	s.router.Handle("/recover_node/{id:[0-9]+}", s.authed(s.handleRecoverNode)).Methods(http.MethodPost)
	s.router.Handle("/nodes_status", s.authed(s.handleNodesStatus)).Methods(http.MethodGet)
	s.router.Handle("/configure_replication", s.authed(s.handleConfigureReplication)).Methods(http.MethodPost)
	s.router.Handle("/replica_nodes/{key}", s.authed(s.handleReplicaNodes)).Methods(http.MethodGet)
	s.router.Handle("/set_threshold", s.authed(s.handleSetThreshold)).Methods(http.MethodPost)
	s.router.Handle("/alerts", s.authed(s.handleAlerts)).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// authed enforces the bearer-token rule from spec.md §6 on every route
// it wraps; GET / is the only route left unwrapped.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")

		if len(header) < len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusForbidden, "Unauthorized")
			return
		}

		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			writeError(w, http.StatusForbidden, "Unauthorized")
			return
		}

		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message, "message": message})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "EnergyGuard API running"})
}

type ingestRequest struct {
	SensorID  string `json:"sensor_id"`
	Timestamp string `json:"timestamp"`
	Value     string `json:"value"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SensorID == "" || req.Timestamp == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "sensor_id, timestamp, and value are required")
		return
	}

	key := req.SensorID + ":" + req.Timestamp

	if err := s.manager.StoreMeasurement(key, req.Value); err != nil {
		s.log.WithError(err).Error("store measurement failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "measurement ingested",
	})
}

func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	result, err := s.manager.RetrieveMeasurement(key)
	if err != nil {
		s.log.WithError(err).Error("retrieve measurement failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !result.Found {
		writeError(w, http.StatusNotFound, "measurement not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"value":   result.Value,
		"message": "retrieved successfully",
		"status":  "success",
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	exists, err := s.manager.MeasurementExists(key)
	if err != nil {
		s.log.WithError(err).Error("measurement_exists failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "measurement not found")
		return
	}

	if err := s.manager.DeleteMeasurement(key); err != nil {
		s.log.WithError(err).Error("delete measurement failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "measurement deleted",
	})
}

func (s *Server) handleFailNode(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	if err := s.manager.FailNode(id); err != nil {
		s.log.WithError(err).WithField("node_id", id).Error("fail_node failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleRecoverNode(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	if err := s.manager.RecoverNode(id); err != nil {
		s.log.WithError(err).WithField("node_id", id).Error("recover_node failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleNodesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"nodes":  s.manager.StorageStatus(),
	})
}

type configureReplicationRequest struct {
	Strategy          string `json:"strategy"`
	ReplicationFactor int    `json:"replication_factor"`
}

func (s *Server) handleConfigureReplication(w http.ResponseWriter, r *http.Request) {
	var req configureReplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Strategy == "" {
		writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}

	if err := s.manager.SetReplicationStrategy(replication.Strategy(req.Strategy), req.ReplicationFactor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "replication strategy updated",
	})
}

func (s *Server) handleReplicaNodes(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	nodes, err := s.manager.ResponsibleNodes(key)
	if err != nil {
		if errors.Is(err, replication.ErrStrategyMismatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.WithError(err).Error("replica_nodes failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"nodes":  nodes,
	})
}

type setThresholdRequest struct {
	SensorID  string  `json:"sensor_id"`
	Threshold float64 `json:"threshold"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req setThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SensorID == "" {
		writeError(w, http.StatusBadRequest, "sensor_id is required")
		return
	}

	s.manager.AlertManager().SetThreshold(req.SensorID, req.Threshold)

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"alerts": s.manager.AlertManager().Alerts(),
	})
}
