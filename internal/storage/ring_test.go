package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNodes(t *testing.T, n int) []*Node {
	t.Helper()
	dir := t.TempDir()
	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		node, err := NewNode(dir, i, 5000+i)
		require.NoError(t, err)
		t.Cleanup(func() { node.Close() })
		nodes[i] = node
	}
	return nodes
}

func TestRing_ResponsibleNodesLengthAndDistinctness(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 2)

	resp := ring.ResponsibleNodes("sensor1:100")
	require.Len(t, resp, 2)
	assert.NotEqual(t, resp[0].ID, resp[1].ID)
}

func TestRing_ResponsibleNodesDeterministic(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 2)

	first := ring.ResponsibleNodes("sensor1:100")
	second := ring.ResponsibleNodes("sensor1:100")

	require.Len(t, first, len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestRing_ReplicationFactorAboveNodeCountTruncates(t *testing.T) {
	nodes := newTestNodes(t, 2)
	ring := NewRing(nodes, 5)

	resp := ring.ResponsibleNodes("k")
	assert.Len(t, resp, 2)
}

func TestRing_EmptyRingReturnsEmpty(t *testing.T) {
	ring := NewRing(nil, 0)
	assert.Nil(t, ring.ResponsibleNodes("k"))
	assert.Nil(t, ring.PrimaryLive("k"))
}

func TestRing_PrimaryLiveSkipsDeadReplicas(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 3)

	resp := ring.ResponsibleNodes("k")
	resp[0].Fail()

	primary := ring.PrimaryLive("k")
	require.NotNil(t, primary)
	assert.Equal(t, resp[1].ID, primary.ID)
}

func TestRing_RedistributeHandsOffToNextActive(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 3)

	require.NoError(t, nodes[0].Write("a", "1"))
	require.NoError(t, nodes[0].Write("b", "2"))

	nodes[0].Fail()
	require.NoError(t, ring.Redistribute(nodes[0]))

	hints := ring.Hints()
	require.Len(t, hints, 2)

	for key, hint := range hints {
		exists, err := nodes[hint.TempHolder].KeyExists(key)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestRing_RecoverNodeDrainsHints(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 3)

	require.NoError(t, nodes[0].Write("a", "1"))
	nodes[0].Fail()
	require.NoError(t, ring.Redistribute(nodes[0]))
	require.Len(t, ring.Hints(), 1)

	nodes[0].alive = true // simulate StorageNode.Recover's liveness flip
	require.NoError(t, ring.RecoverNode(nodes[0]))

	assert.Empty(t, ring.Hints())

	value, found, err := nodes[0].Read("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", value)
}

func TestRing_RecoverNodeIsIdempotent(t *testing.T) {
	nodes := newTestNodes(t, 3)
	ring := NewRing(nodes, 3)

	require.NoError(t, nodes[0].Write("a", "1"))
	nodes[0].Fail()
	require.NoError(t, ring.Redistribute(nodes[0]))

	nodes[0].alive = true
	require.NoError(t, ring.RecoverNode(nodes[0]))
	require.NoError(t, ring.RecoverNode(nodes[0]))

	assert.Empty(t, ring.Hints())
}

func TestRing_AddNodeDeduplicatesOnHashCollision(t *testing.T) {
	nodes := newTestNodes(t, 1)
	ring := NewRing(nodes, 1)

	before := len(ring.sortedHashes)
	ring.AddNode(nodes[0])

	assert.Len(t, ring.sortedHashes, before, "re-adding the same node id must not create a duplicate hash slot")
}
