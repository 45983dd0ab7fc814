package netid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ConnectIsIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Connect(TypeWiFi, 1))
	assert.False(t, r.Connect(TypeWiFi, 1), "duplicate connect should not count twice")
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Default(), "connect never sets the default")
}

func TestRegistry_ConnectDefaultDisconnect(t *testing.T) {
	r := NewRegistry()

	r.Connect(TypeWiFi, 1)
	prev, added := r.SetDefault(TypeWiFi, 1)
	assert.Nil(t, prev)
	assert.False(t, added)

	removed, cleared := r.Disconnect(1)
	assert.True(t, removed)
	assert.True(t, cleared)

	snap := r.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Nil(t, snap.Default)
}

func TestRegistry_DefaultBeforeConnect(t *testing.T) {
	r := NewRegistry()

	_, added := r.SetDefault(TypeCellular, 2)
	assert.True(t, added)

	snap := r.Snapshot()
	assert.Equal(t, []NetworkID{2}, snap.Active)
	require.NotNil(t, snap.Default)
	assert.Equal(t, Default{ID: 2, Type: TypeCellular}, *snap.Default)
}

func TestRegistry_DisconnectUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	removed, cleared := r.Disconnect(42)
	assert.False(t, removed)
	assert.False(t, cleared)
}

func TestRegistry_PurgeProtectsDefault(t *testing.T) {
	r := NewRegistry()
	r.Connect(TypeWiFi, 1)
	r.Connect(TypeCellular, 2)
	r.Connect(TypeEthernet, 3)
	r.SetDefault(TypeCellular, 2)

	removed, protected := r.Purge([]NetworkID{1, 2, 9})

	assert.Equal(t, []NetworkID{1}, removed)
	assert.True(t, protected)
	assert.Equal(t, []NetworkID{2, 3}, r.Snapshot().Active)
	assert.Equal(t, NetworkID(2), r.Default().ID)
}

func TestRegistry_ClearAndRestoreDefault(t *testing.T) {
	r := NewRegistry()
	r.SetDefault(TypeWiFi, 7)

	cleared := r.ClearDefault()
	require.NotNil(t, cleared)
	assert.Equal(t, []NetworkID{7}, r.Snapshot().Active, "unavailable keeps the active set")

	restored := r.RestoreDefault()
	require.NotNil(t, restored)
	assert.Equal(t, NetworkID(7), restored.ID)
}

func TestRegistry_RestoreDefaultAfterDisconnect(t *testing.T) {
	r := NewRegistry()
	r.SetDefault(TypeWiFi, 7)
	r.ClearDefault()
	r.Disconnect(7)

	assert.Nil(t, r.RestoreDefault())
	assert.Nil(t, r.Default())
}

func TestRegistry_SetDefaultUnspecifiedKeepsKnownType(t *testing.T) {
	r := NewRegistry()
	r.Connect(TypeEthernet, 4)
	r.SetDefault(TypeUnspecified, 4)

	assert.Equal(t, TypeEthernet, r.Default().Type)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	r.Connect(TypeWiFi, 1)
	r.SetDefault(TypeWiFi, 1)

	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Default())
	assert.Nil(t, r.RestoreDefault())
}

// TestRegistry_RandomSequences applies random event sequences and checks the
// invariants after every event.
func TestRegistry_RandomSequences(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := NewRegistry()
		// lastAdded records whether the most recent event touching an id
		// could have left it active.
		lastAdded := make(map[NetworkID]bool)

		for step := 0; step < 500; step++ {
			id := NetworkID(rng.Intn(6))
			typ := ConnectionType(rng.Intn(6))

			var def *Default
			switch rng.Intn(7) {
			case 0, 1:
				r.Connect(typ, id)
				lastAdded[id] = true
			case 2, 3:
				r.Disconnect(id)
				lastAdded[id] = false
			case 4:
				r.SetDefault(typ, id)
				lastAdded[id] = true
			case 5:
				r.ClearDefault()
			case 6:
				def = r.Default()
				ids := []NetworkID{NetworkID(rng.Intn(6)), NetworkID(rng.Intn(6))}
				removed, _ := r.Purge(ids)
				for _, gone := range removed {
					lastAdded[gone] = false
				}
				if def != nil {
					assert.True(t, r.IsActive(def.ID), "seed %d step %d: purge removed default", seed, step)
				}
			}

			require.NoError(t, r.CheckInvariants(), "seed %d step %d", seed, step)
			for _, active := range r.Snapshot().Active {
				assert.True(t, lastAdded[active],
					"seed %d step %d: id %d active after it was disconnected", seed, step, active)
			}
		}
	}
}

func TestParseConnectionType(t *testing.T) {
	typ, err := ParseConnectionType("WiFi")
	require.NoError(t, err)
	assert.Equal(t, TypeWiFi, typ)

	typ, err = ParseConnectionType("")
	require.NoError(t, err)
	assert.Equal(t, TypeUnspecified, typ)

	_, err = ParseConnectionType("satellite")
	assert.Error(t, err)
}

func TestBinding_String(t *testing.T) {
	assert.Equal(t, "unbound", Unbound.String())
	assert.Equal(t, "net:12", BindTo(12).String())
}

func TestSnapshot_BindingAndContains(t *testing.T) {
	snap := Snapshot{Active: []NetworkID{1, 3, 5}, Default: &Default{ID: 3, Type: TypeWiFi}}

	assert.Equal(t, BindTo(3), snap.Binding())
	assert.True(t, snap.Contains(5))
	assert.False(t, snap.Contains(4))
	assert.Equal(t, Unbound, Snapshot{}.Binding())
}
