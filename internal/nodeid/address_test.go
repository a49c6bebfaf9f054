package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "layer.base", New(KindLayer, "base").String())
	assert.Equal(t, "", Address{}.String())
}

func TestAddress_RoundTrip(t *testing.T) {
	testIDs := []string{
		"layer.base",
		"install.base",
		"gate.test",
		"stage.prod",
	}

	for _, id := range testIDs {
		t.Run(id, func(t *testing.T) {
			addr, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, id, addr.String())
		})
	}
}

func TestAddress_Equal(t *testing.T) {
	a := New(KindGate, "test")
	assert.True(t, a.Equal(MustParse("gate.test")))
	assert.False(t, a.Equal(New(KindStage, "test")))
	assert.True(t, Address{}.IsZero())
}
