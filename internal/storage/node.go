// Package storage implements EnergyGuard's per-node persistence and the
// consistent-hash placement ring used to distribute measurements across
// nodes.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// KeyValue is a single stored measurement, returned by GetAllKeys.
type KeyValue struct {
	Key   string
	Value string
}

// Node is a single-node persistent table keyed by string, with a
// liveness flag and CRUD plus full-scan operations. It is aware of its
// own id and a metadata port (never a live socket — see spec.md §1).
//
// Node is safe for concurrent use: every operation is serialized by an
// internal mutex, matching the sqlite connection's own single-writer
// semantics.
type Node struct {
	ID   int
	Port int

	mu    sync.Mutex
	db    *sql.DB
	alive bool
}

// NewNode opens (creating if necessary) the backing table for node id
// under dataDir/storage_<id> and returns a live Node.
func NewNode(dataDir string, id, port int) (*Node, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	path := filepath.Join(dataDir, fmt.Sprintf("storage_%d", id))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open storage node %d: %w", id, err)
	}

	db.SetMaxOpenConns(1) // one file, one writer; avoids SQLITE_BUSY under the driver's own locking

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS measurements (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize storage node %d: %w", id, err)
	}

	return &Node{
		ID:    id,
		Port:  port,
		db:    db,
		alive: true,
	}, nil
}

// Close releases the node's backing database handle.
func (n *Node) Close() error {
	return n.db.Close()
}

// Write upserts key/value. A no-op when the node is not alive.
func (n *Node) Write(key, value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.alive {
		return nil
	}

	_, err := n.db.Exec(`INSERT OR REPLACE INTO measurements (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("write %s on node %d: %w", key, n.ID, err)
	}
	return nil
}

// Read returns the value for key and whether it was present. Returns
// (_, false, nil) when the node is not alive.
func (n *Node) Read(key string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.alive {
		return "", false, nil
	}

	var value string
	err := n.db.QueryRow(`SELECT value FROM measurements WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s on node %d: %w", key, n.ID, err)
	}
	return value, true, nil
}

// Delete removes key if present. A no-op when the node is not alive.
func (n *Node) Delete(key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.alive {
		return nil
	}

	if _, err := n.db.Exec(`DELETE FROM measurements WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s on node %d: %w", key, n.ID, err)
	}
	return nil
}

// KeyExists reports whether key is present. Always false when the node
// is not alive.
func (n *Node) KeyExists(key string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.alive {
		return false, nil
	}

	var exists int
	err := n.db.QueryRow(`SELECT 1 FROM measurements WHERE key = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("key_exists %s on node %d: %w", key, n.ID, err)
	}
	return true, nil
}

// GetAllKeys returns every (key, value) pair, regardless of liveness.
// Ring.Redistribute relies on this to read a failed node's data for
// hinted handoff.
func (n *Node) GetAllKeys() ([]KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	rows, err := n.db.Query(`SELECT key, value FROM measurements`)
	if err != nil {
		return nil, fmt.Errorf("get_all_keys on node %d: %w", n.ID, err)
	}
	defer rows.Close()

	var out []KeyValue
	for rows.Next() {
		var kv KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan key on node %d: %w", n.ID, err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys on node %d: %w", n.ID, err)
	}
	return out, nil
}

// IsAlive reports the node's current liveness.
func (n *Node) IsAlive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alive
}

// Fail marks the node dead. Idempotent.
func (n *Node) Fail() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alive = false
}

// Recover marks the node alive; under strategy "full" it immediately
// runs SyncWithActiveNodes against activeNodes. Idempotent: recovering
// an already-alive node does not re-sync.
func (n *Node) Recover(activeNodes []*Node, strategy string) error {
	n.mu.Lock()
	if n.alive {
		n.mu.Unlock()
		return nil
	}
	n.alive = true
	n.mu.Unlock()

	if strategy == "full" {
		return n.SyncWithActiveNodes(activeNodes)
	}
	return nil
}

// SyncWithActiveNodes absorbs every (key, value) held by other live
// nodes, then deletes any local key absent from that union. After this
// call, this node's key set equals the union of all other live nodes'
// key sets — the full-replication invariant from spec.md §4.1.
func (n *Node) SyncWithActiveNodes(activeNodes []*Node) error {
	union := make(map[string]struct{})

	for _, other := range activeNodes {
		if other.ID == n.ID || !other.IsAlive() {
			continue
		}

		pairs, err := other.GetAllKeys()
		if err != nil {
			return fmt.Errorf("sync node %d: read peer %d: %w", n.ID, other.ID, err)
		}

		for _, kv := range pairs {
			if err := n.Write(kv.Key, kv.Value); err != nil {
				return fmt.Errorf("sync node %d: absorb %s from peer %d: %w", n.ID, kv.Key, other.ID, err)
			}
			union[kv.Key] = struct{}{}
		}
	}

	own, err := n.GetAllKeys()
	if err != nil {
		return fmt.Errorf("sync node %d: read own keys: %w", n.ID, err)
	}

	for _, kv := range own {
		if _, ok := union[kv.Key]; !ok {
			if err := n.Delete(kv.Key); err != nil {
				return fmt.Errorf("sync node %d: prune %s: %w", n.ID, kv.Key, err)
			}
		}
	}

	return nil
}
