package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energyguard/internal/replication"
)

const testToken = "test-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	manager, err := replication.NewManager(t.TempDir(), 3, 6100, replication.StrategyFull, 0)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return NewServer(manager, nil, testToken, nil, nil)
}

func authedRequest(method, path string, body interface{}) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestServer_RootRequiresNoAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nodes_status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_RejectsWrongToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nodes_status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_IngestThenGet(t *testing.T) {
	s := newTestServer(t)

	ingestReq := authedRequest(http.MethodPost, "/ingest", ingestRequest{
		SensorID:  "s1",
		Timestamp: "1",
		Value:     "10",
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, ingestReq)
	require.Equal(t, http.StatusOK, rec.Code)

	getReq := authedRequest(http.MethodGet, "/measurement/s1:1", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "10", body["value"])
}

func TestServer_IngestRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodPost, "/ingest", ingestRequest{SensorID: "s1"})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetMissingMeasurementIs404(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodGet, "/measurement/nope:1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteMissingMeasurementIs404(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodDelete, "/delete/nope:1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReplicaNodesRejectsFullStrategy(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodGet, "/replica_nodes/k", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ConfigureReplicationThenReplicaNodes(t *testing.T) {
	s := newTestServer(t)

	configureReq := authedRequest(http.MethodPost, "/configure_replication", configureReplicationRequest{
		Strategy:          "consistent",
		ReplicationFactor: 2,
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, configureReq)
	require.Equal(t, http.StatusOK, rec.Code)

	replicaReq := authedRequest(http.MethodGet, "/replica_nodes/k", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, replicaReq)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_FailAndRecoverNode(t *testing.T) {
	s := newTestServer(t)

	failReq := authedRequest(http.MethodPost, "/fail_node/1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, failReq)
	require.Equal(t, http.StatusOK, rec.Code)

	statusReq := authedRequest(http.MethodGet, "/nodes_status", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, statusReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	nodes := body["nodes"].([]interface{})
	failedNode := nodes[1].(map[string]interface{})
	assert.Equal(t, "dead", failedNode["status"])

	recoverReq := authedRequest(http.MethodPost, "/recover_node/1", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, recoverReq)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SetThresholdThenAlerts(t *testing.T) {
	s := newTestServer(t)

	thresholdReq := authedRequest(http.MethodPost, "/set_threshold", setThresholdRequest{
		SensorID:  "s1",
		Threshold: 5,
	})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, thresholdReq)
	require.Equal(t, http.StatusOK, rec.Code)

	ingestReq := authedRequest(http.MethodPost, "/ingest", ingestRequest{
		SensorID:  "s1",
		Timestamp: "1",
		Value:     "7",
	})
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, ingestReq)
	require.Equal(t, http.StatusOK, rec.Code)

	alertsReq := authedRequest(http.MethodGet, "/alerts", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, alertsReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	alerts := body["alerts"].([]interface{})
	require.Len(t, alerts, 1)
}
