// Package replication implements the strategy-aware placement and
// routing engine that fans writes and reads out across storage nodes.
package replication

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"energyguard/internal/alerts"
	"energyguard/internal/storage"
)

// Strategy selects how measurements are placed across nodes.
type Strategy string

const (
	// StrategyFull replicates every write to every live node.
	StrategyFull Strategy = "full"
	// StrategyConsistent places writes on a hash ring's live replicas.
	StrategyConsistent Strategy = "consistent"
)

var (
	// ErrNotFound describes a read or delete of a key no live node
	// holds. The manager's own methods do not return it: a miss is
	// reported through RetrieveResult.Found and MeasurementExists.
	ErrNotFound = errors.New("measurement not found")
	// ErrStrategyMismatch is returned by ResponsibleNodes-style queries
	// when the manager is not running the consistent strategy.
	ErrStrategyMismatch = errors.New("replication strategy is not consistent")
	// ErrInvalidNodeID is returned when a node id is out of range.
	ErrInvalidNodeID = errors.New("invalid node id")
	// ErrInvalidStrategy is returned when configuring an unknown strategy.
	ErrInvalidStrategy = errors.New("invalid replication strategy")
)

// NodeStatus is a single row of storage_status() / GET /nodes_status.
type NodeStatus struct {
	NodeID int    `json:"node_id"`
	Status string `json:"status"`
	Port   int    `json:"port"`
}

// RetrieveResult is the outcome of RetrieveMeasurement.
type RetrieveResult struct {
	Value        string
	SourceNodeID int
	Found        bool
}

// Manager owns the fixed set of storage nodes, the active placement
// strategy, and the alert hook invoked after every accepted write. All
// mutating operations are serialized by mu, held for the duration of
// the call, per spec.md §5.
type Manager struct {
	mu sync.Mutex

	nodes             []*storage.Node
	strategy          Strategy
	replicationFactor int
	ring              *storage.Ring

	alertManager *alerts.Manager
	log          logrus.FieldLogger
	hintMirror   storage.HintMirror

	onWrite    func()
	onRead     func()
	onNodeFail func()
	onAlert    func()
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger. Defaults to logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetricsHooks wires observability counters into manager operations.
// Any nil hook is left a no-op.
func WithMetricsHooks(onWrite, onRead, onNodeFail, onAlert func()) Option {
	return func(m *Manager) {
		if onWrite != nil {
			m.onWrite = onWrite
		}
		if onRead != nil {
			m.onRead = onRead
		}
		if onNodeFail != nil {
			m.onNodeFail = onNodeFail
		}
		if onAlert != nil {
			m.onAlert = onAlert
		}
	}
}

// WithHintMirror attaches an optional observer of the ring's hint
// table (see internal/storage.RedisHintMirror). It is applied whenever
// a consistent-strategy ring is built, including on later strategy
// switches.
func WithHintMirror(mirror storage.HintMirror) Option {
	return func(m *Manager) { m.hintMirror = mirror }
}

// NewManager constructs nodes [0, numNodes) under dataDir, starting in
// the given strategy. replicationFactor is only consulted if strategy is
// "consistent".
func NewManager(dataDir string, numNodes, basePort int, strategy Strategy, replicationFactor int, opts ...Option) (*Manager, error) {
	nodes := make([]*storage.Node, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		n, err := storage.NewNode(dataDir, i, basePort+i)
		if err != nil {
			return nil, fmt.Errorf("construct storage node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}

	m := &Manager{
		nodes:             nodes,
		strategy:          StrategyFull,
		replicationFactor: replicationFactor,
		alertManager:      alerts.NewManager(),
		log:               logrus.StandardLogger(),
		onWrite:           func() {},
		onRead:            func() {},
		onNodeFail:        func() {},
		onAlert:           func() {},
	}

	for _, opt := range opts {
		opt(m)
	}

	if strategy == StrategyConsistent {
		m.ring = storage.NewRing(m.nodes, replicationFactor)
		m.ring.SetMirror(m.hintMirror)
	}
	m.strategy = strategy

	return m, nil
}

// Close releases every node's backing storage handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, n := range m.nodes {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AlertManager exposes the manager's alert hook for read-only queries
// (GET /alerts, POST /set_threshold).
func (m *Manager) AlertManager() *alerts.Manager {
	return m.alertManager
}

// SetReplicationStrategy switches strategy, rebuilding or discarding the
// ring as needed. No data moves; subsequent writes follow the new
// placement, reads follow the new policy.
func (m *Manager) SetReplicationStrategy(strategy Strategy, replicationFactor int) error {
	if strategy != StrategyFull && strategy != StrategyConsistent {
		return ErrInvalidStrategy
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategy = strategy
	if strategy == StrategyConsistent {
		m.replicationFactor = replicationFactor
		m.ring = storage.NewRing(m.nodes, replicationFactor)
		m.ring.SetMirror(m.hintMirror)
	} else {
		m.ring = nil
	}

	m.log.WithFields(logrus.Fields{"strategy": strategy}).Info("replication strategy changed")
	return nil
}

// StoreMeasurement fans key/value out per the active strategy, then,
// once every write has succeeded, invokes the alert hook exactly once.
// A failed write returns its error without running the hook.
func (m *Manager) StoreMeasurement(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.strategy {
	case StrategyConsistent:
		for _, n := range m.ring.ResponsibleNodes(key) {
			if n.IsAlive() {
				if err := n.Write(key, value); err != nil {
					return fmt.Errorf("store %s on node %d: %w", key, n.ID, err)
				}
			}
		}
	default:
		for _, n := range m.nodes {
			if n.IsAlive() {
				if err := n.Write(key, value); err != nil {
					return fmt.Errorf("store %s on node %d: %w", key, n.ID, err)
				}
			}
		}
	}

	m.onWrite()
	before := len(m.alertManager.Alerts())
	m.alertManager.Check(key, value)
	if len(m.alertManager.Alerts()) > before {
		m.onAlert()
	}

	return nil
}

// RetrieveMeasurement returns the first hit under "full" (live nodes in
// id order) or the primary-live replica's value under "consistent"
// (no fallback to other replicas).
func (m *Manager) RetrieveMeasurement(key string) (RetrieveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onRead()

	if m.strategy == StrategyConsistent {
		node := m.ring.PrimaryLive(key)
		if node == nil {
			return RetrieveResult{}, nil
		}
		value, found, err := node.Read(key)
		if err != nil {
			return RetrieveResult{}, fmt.Errorf("retrieve %s on node %d: %w", key, node.ID, err)
		}
		if !found {
			return RetrieveResult{}, nil
		}
		return RetrieveResult{Value: value, SourceNodeID: node.ID, Found: true}, nil
	}

	for _, n := range m.nodes {
		if !n.IsAlive() {
			continue
		}
		value, found, err := n.Read(key)
		if err != nil {
			return RetrieveResult{}, fmt.Errorf("retrieve %s on node %d: %w", key, n.ID, err)
		}
		if found {
			return RetrieveResult{Value: value, SourceNodeID: n.ID, Found: true}, nil
		}
	}

	return RetrieveResult{}, nil
}

// DeleteMeasurement issues a delete to every node regardless of
// liveness; dead nodes no-op per storage.Node.Delete.
func (m *Manager) DeleteMeasurement(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.nodes {
		if err := n.Delete(key); err != nil {
			return fmt.Errorf("delete %s on node %d: %w", key, n.ID, err)
		}
	}
	return nil
}

// MeasurementExists reports whether any live node holds key.
func (m *Manager) MeasurementExists(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.nodes {
		if !n.IsAlive() {
			continue
		}
		exists, err := n.KeyExists(key)
		if err != nil {
			return false, fmt.Errorf("measurement_exists %s on node %d: %w", key, n.ID, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// FailNode marks node id dead and, under "consistent", redistributes
// its data onto the next active replica, recording hints. Idempotent.
func (m *Manager) FailNode(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || id >= len(m.nodes) {
		return ErrInvalidNodeID
	}

	node := m.nodes[id]
	wasAlive := node.IsAlive()
	node.Fail()

	if wasAlive {
		m.onNodeFail()
		m.log.WithField("node_id", id).Info("storage node failed")
	}

	if m.strategy == StrategyConsistent && wasAlive {
		if err := m.ring.Redistribute(node); err != nil {
			return fmt.Errorf("redistribute node %d: %w", id, err)
		}
	}

	return nil
}

// RecoverNode marks node id alive, running full-strategy sync or
// consistent-strategy hint drainage before returning.
func (m *Manager) RecoverNode(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || id >= len(m.nodes) {
		return ErrInvalidNodeID
	}

	node := m.nodes[id]
	if err := node.Recover(m.nodes, string(m.strategy)); err != nil {
		return fmt.Errorf("recover node %d: %w", id, err)
	}

	if m.strategy == StrategyConsistent {
		m.log.WithField("node_id", id).Info("recovering node")
		if err := m.ring.RecoverNode(node); err != nil {
			return fmt.Errorf("drain hints for node %d: %w", id, err)
		}
	}

	return nil
}

// StorageStatus returns every node's status in id order.
func (m *Manager) StorageStatus() []NodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NodeStatus, 0, len(m.nodes))
	for _, n := range m.nodes {
		status := "dead"
		if n.IsAlive() {
			status = "alive"
		}
		out = append(out, NodeStatus{NodeID: n.ID, Status: status, Port: n.Port})
	}
	return out
}

// ResponsibleNodes returns the ring's placement for key under
// "consistent", or ErrStrategyMismatch otherwise.
func (m *Manager) ResponsibleNodes(key string) ([]NodeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.strategy != StrategyConsistent || m.ring == nil {
		return nil, ErrStrategyMismatch
	}

	nodes := m.ring.ResponsibleNodes(key)
	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		status := "dead"
		if n.IsAlive() {
			status = "alive"
		}
		out = append(out, NodeStatus{NodeID: n.ID, Status: status, Port: n.Port})
	}
	return out, nil
}

// Strategy returns the manager's current replication strategy.
func (m *Manager) Strategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}
