package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CheckAppendsAlertOnBreach(t *testing.T) {
	m := NewManager()
	m.SetThreshold("s1", 5)

	m.Check("s1:1", "7")

	got := m.Alerts()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SensorID)
	assert.Equal(t, 7.0, got[0].Value)
	assert.Equal(t, 5.0, got[0].Threshold)
	assert.Equal(t, "1", got[0].Timestamp)
}

func TestManager_CheckIgnoresValueAtOrBelowThreshold(t *testing.T) {
	m := NewManager()
	m.SetThreshold("s1", 5)

	m.Check("s1:2", "3")
	m.Check("s1:3", "5")

	assert.Empty(t, m.Alerts())
}

func TestManager_CheckIgnoresNonNumericValue(t *testing.T) {
	m := NewManager()
	m.SetThreshold("s1", 5)

	m.Check("s1:4", "abc")

	assert.Empty(t, m.Alerts())
}

func TestManager_CheckIgnoresMalformedKey(t *testing.T) {
	m := NewManager()
	m.SetThreshold("s1", 5)

	m.Check("no-colon", "10")
	m.Check("too:many:colons", "10")

	assert.Empty(t, m.Alerts())
}

func TestManager_CheckIgnoresSensorWithoutThreshold(t *testing.T) {
	m := NewManager()
	m.Check("s2:1", "1000")
	assert.Empty(t, m.Alerts())
}

func TestManager_SetThresholdOverwritesPriorValue(t *testing.T) {
	m := NewManager()
	m.SetThreshold("s1", 5)
	m.SetThreshold("s1", 100)

	m.Check("s1:1", "7")
	assert.Empty(t, m.Alerts(), "the overwritten threshold of 100 should not be breached by 7")
}
