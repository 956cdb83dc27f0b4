package storage

import (
	"bytes"
	"crypto/md5"
	"sort"
	"sync"
)

// hash128 is a 128-bit MD5 digest, compared byte-for-byte. Comparing the
// raw big-endian bytes gives the same ordering as treating the digest as
// an unsigned 128-bit integer (int(hexdigest, 16) in the original
// Python), without needing math/big.
type hash128 [16]byte

func hashOf(s string) hash128 {
	return md5.Sum([]byte(s))
}

func less(a, b hash128) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Hint records that key was temporarily stored on TempHolder (a node
// other than its natural holder) because the natural holder was dead at
// redistribution time.
type Hint struct {
	TempHolder int
	Value      string
}

// HintMirror optionally observes the ring's in-memory hint table so an
// operator can inspect in-flight hints from outside the process (see
// SPEC_FULL.md's Redis mirror). The in-memory table in Ring remains the
// source of truth; Ring discards mirror errors, so they never fail
// placement.
type HintMirror interface {
	SetHint(key string, holder int, value string) error
	DeleteHint(key string) error
}

// Ring is a consistent-hash placement structure over a fixed set of
// storage nodes. All mutating operations are expected to run under the
// replication manager's coarse lock (see spec.md §5); Ring additionally
// guards its own state with a mutex so read-only queries
// (ResponsibleNodes, PrimaryLive) stay safe if ever called outside it.
type Ring struct {
	mu                sync.Mutex
	nodes             map[hash128]*Node
	sortedHashes      []hash128
	replicationFactor int
	hints             map[string]Hint
	mirror            HintMirror
}

// NewRing builds a ring over nodes with the given replication factor.
// A factor of 0 defaults to len(nodes).
func NewRing(nodes []*Node, replicationFactor int) *Ring {
	r := &Ring{
		nodes: make(map[hash128]*Node),
		hints: make(map[string]Hint),
	}

	if replicationFactor <= 0 {
		replicationFactor = len(nodes)
	}
	r.replicationFactor = replicationFactor

	for _, n := range nodes {
		r.addNodeLocked(n)
	}

	return r
}

// SetMirror attaches an optional hint observer. Pass nil to detach.
func (r *Ring) SetMirror(m HintMirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

// AddNode inserts node into the ring, computing its position as
// MD5(utf8(decimal(node_id))). A hash collision between two node ids
// overwrites the earlier entry, matching spec.md §4.2's collision
// policy.
func (r *Ring) AddNode(node *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addNodeLocked(node)
}

func (r *Ring) addNodeLocked(node *Node) {
	h := nodeHash(node.ID)

	_, existed := r.nodes[h]
	r.nodes[h] = node

	if !existed {
		idx := sort.Search(len(r.sortedHashes), func(i int) bool { return !less(r.sortedHashes[i], h) })
		r.sortedHashes = append(r.sortedHashes, hash128{})
		copy(r.sortedHashes[idx+1:], r.sortedHashes[idx:])
		r.sortedHashes[idx] = h
	}
}

// RemoveNode removes node from the ring.
func (r *Ring) RemoveNode(node *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := nodeHash(node.ID)
	if _, ok := r.nodes[h]; !ok {
		return
	}
	delete(r.nodes, h)

	idx := sort.Search(len(r.sortedHashes), func(i int) bool { return !less(r.sortedHashes[i], h) })
	if idx < len(r.sortedHashes) && r.sortedHashes[idx] == h {
		r.sortedHashes = append(r.sortedHashes[:idx], r.sortedHashes[idx+1:]...)
	}
}

func nodeHash(nodeID int) hash128 {
	return hashOf(decimal(nodeID))
}

func decimal(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ResponsibleNodes returns, in walk order, up to ReplicationFactor
// distinct nodes responsible for key: starting just past the key's
// hash position, walking clockwise and skipping nodes already chosen.
// The first element is the primary. An empty ring yields nil.
func (r *Ring) ResponsibleNodes(key string) []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responsibleNodesLocked(key)
}

func (r *Ring) responsibleNodesLocked(key string) []*Node {
	n := len(r.sortedHashes)
	if n == 0 {
		return nil
	}

	want := r.replicationFactor
	if want > n {
		want = n
	}

	h := hashOf(key)
	start := sort.Search(n, func(i int) bool { return less(h, r.sortedHashes[i]) })

	var result []*Node
	seen := make(map[int]struct{}, want)

	for i := 0; i < n && len(result) < want; i++ {
		idx := (start + i) % n
		node := r.nodes[r.sortedHashes[idx]]
		if _, ok := seen[node.ID]; ok {
			continue
		}
		seen[node.ID] = struct{}{}
		result = append(result, node)
	}

	return result
}

// PrimaryLive returns the first node in ResponsibleNodes(key)'s walk
// order that is currently alive, or nil if none is.
func (r *Ring) PrimaryLive(key string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range r.responsibleNodesLocked(key) {
		if node.IsAlive() {
			return node
		}
	}
	return nil
}

// NextActive starts from the successor of key's hash position and walks
// clockwise across every ring slot once, returning the first alive node
// whose id is not excludeID. Returns nil if no such node exists.
func (r *Ring) NextActive(key string, excludeID int) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextActiveLocked(key, excludeID)
}

func (r *Ring) nextActiveLocked(key string, excludeID int) *Node {
	n := len(r.sortedHashes)
	if n == 0 {
		return nil
	}

	h := hashOf(key)
	start := sort.Search(n, func(i int) bool { return less(h, r.sortedHashes[i]) })

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		node := r.nodes[r.sortedHashes[idx]]
		if node.IsAlive() && node.ID != excludeID {
			return node
		}
	}
	return nil
}

// Redistribute is called once per failure event. For every (key, value)
// held by failedNode, it picks target = NextActive(f"{id}:0",
// exclude=id); if target exists and does not already hold key, it
// writes (key, value) to target and records a hint.
func (r *Ring) Redistribute(failedNode *Node) error {
	pairs, err := failedNode.GetAllKeys()
	if err != nil {
		return err
	}

	anchor := decimal(failedNode.ID) + ":0"

	r.mu.Lock()
	target := r.nextActiveLocked(anchor, failedNode.ID)
	r.mu.Unlock()

	if target == nil {
		return nil
	}

	for _, kv := range pairs {
		exists, err := target.KeyExists(kv.Key)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := target.Write(kv.Key, kv.Value); err != nil {
			return err
		}

		r.mu.Lock()
		r.hints[kv.Key] = Hint{TempHolder: target.ID, Value: kv.Value}
		mirror := r.mirror
		r.mu.Unlock()

		if mirror != nil {
			_ = mirror.SetHint(kv.Key, target.ID, kv.Value)
		}
	}

	return nil
}

// RecoverNode drains every hint whose temp holder is not the recovering
// node: the temp holder's stand-in copy is deleted if the holder isn't
// in the key's post-recovery natural placement, the key is written onto
// the recovering node if missing, and the hint is removed. Hints
// already pointing at the recovering node are left intact.
func (r *Ring) RecoverNode(recoveredNode *Node) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.hints))
	for key, hint := range r.hints {
		if hint.TempHolder != recoveredNode.ID {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.mu.Lock()
		hint, ok := r.hints[key]
		if !ok || hint.TempHolder == recoveredNode.ID {
			r.mu.Unlock()
			continue
		}
		tempNode := r.nodes[nodeHash(hint.TempHolder)]
		natural := r.responsibleNodesLocked(key)
		r.mu.Unlock()

		inNatural := false
		for _, n := range natural {
			if n.ID == hint.TempHolder {
				inNatural = true
				break
			}
		}

		if tempNode != nil && !inNatural {
			if err := tempNode.Delete(key); err != nil {
				return err
			}
		}

		exists, err := recoveredNode.KeyExists(key)
		if err != nil {
			return err
		}
		if !exists {
			if err := recoveredNode.Write(key, hint.Value); err != nil {
				return err
			}
		}

		r.mu.Lock()
		delete(r.hints, key)
		mirror := r.mirror
		r.mu.Unlock()

		if mirror != nil {
			_ = mirror.DeleteHint(key)
		}
	}

	return nil
}

// Hints returns a snapshot of the current hint table, for tests and
// diagnostics.
func (r *Ring) Hints() map[string]Hint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Hint, len(r.hints))
	for k, v := range r.hints {
		out[k] = v
	}
	return out
}

// ReplicationFactor returns the ring's configured replica count.
func (r *Ring) ReplicationFactor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replicationFactor
}
