package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	rules := Rules{
		SAE:            ">= 18.99.2",
		Enterprise:     "none",
		Roaming:        ">= 18.99.0, < 19",
		NeighborReport: "",
		HostSleep:      "> 17",
	}

	caps, err := Resolve("18.99.3", rules)
	require.NoError(t, err)
	assert.True(t, caps.SAE)
	assert.True(t, caps.OWE, "empty rule enables the feature")
	assert.False(t, caps.Enterprise)
	assert.True(t, caps.Roaming)
	assert.True(t, caps.NeighborReport)
	assert.True(t, caps.HostSleep)

	caps, err = Resolve("18.99.1", rules)
	require.NoError(t, err)
	assert.False(t, caps.SAE)

	caps, err = Resolve("19.1", rules)
	require.NoError(t, err)
	assert.False(t, caps.Roaming)
	assert.False(t, caps.NeighborReport, "neighbor reports need roaming")
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve("garbage", Rules{})
	assert.Error(t, err)

	_, err = Resolve("1.0", Rules{SAE: "~~ 1"})
	assert.Error(t, err)
}
