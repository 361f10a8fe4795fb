package roster

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func join(t *testing.T, r *Roster, id string) models.Player {
	t.Helper()
	p, err := r.ApplyPlayerMutation(Mutation{Op: OpJoin, PlayerID: id, At: t0, Profile: Profile{DisplayName: id}})
	require.NoError(t, err)
	return p
}

func activeFromByID(v Views) []string {
	var ids []string
	for id, p := range v.ByID {
		if p.Status == models.PlayerActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func activeFromOrdered(v Views) []string {
	ids := append([]string(nil), v.ActiveIDs()...)
	sort.Strings(ids)
	return ids
}

func TestViewsAgreeOnActiveSetUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := New()
	var ids []string

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) == 0:
			id := fmt.Sprintf("p%d", len(ids))
			join(t, r, id)
			ids = append(ids, id)
		default:
			id := ids[rng.Intn(len(ids))]
			statuses := []models.PlayerStatus{models.PlayerActive, models.PlayerDisconnected, models.PlayerForfeited}
			_, err := r.ApplyPlayerMutation(Mutation{Op: OpStatus, PlayerID: id, Status: statuses[rng.Intn(len(statuses))]})
			if err != nil {
				require.ErrorIs(t, err, ErrTombstoned)
			}
		}

		v := r.Views()
		require.Equal(t, activeFromByID(v), activeFromOrdered(v), "step %d", step)
		require.NoError(t, r.Verify())
	}
}

func TestMergePolicy(t *testing.T) {
	r := New()
	join(t, r, "a")

	balance := int64(1500)
	_, err := r.ApplyPlayerMutation(Mutation{Op: OpAdjust, PlayerID: "a", Balance: &balance})
	require.NoError(t, err)

	p, err := r.ApplyPlayerMutation(Mutation{Op: OpProfile, PlayerID: "a", Profile: Profile{Token: "boot", Color: "red"}})
	require.NoError(t, err)
	assert.Equal(t, "a", p.DisplayName, "blank name must not overwrite")
	assert.Equal(t, "boot", p.Token)
	assert.Equal(t, "red", p.Color)

	p, err = r.ApplyPlayerMutation(Mutation{Op: OpProfile, PlayerID: "a", Profile: Profile{DisplayName: "Alice", Color: ""}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "red", p.Color)
	assert.Equal(t, int64(1500), p.Balance, "profile updates never touch authoritative fields")
}

func TestSingleHost(t *testing.T) {
	r := New()
	join(t, r, "a")
	join(t, r, "b")

	_, err := r.ApplyPlayerMutation(Mutation{Op: OpSetHost, PlayerID: "a"})
	require.NoError(t, err)
	_, err = r.ApplyPlayerMutation(Mutation{Op: OpSetHost, PlayerID: "b"})
	require.NoError(t, err)

	hosts := 0
	for _, p := range r.Players() {
		if p.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
	assert.Equal(t, "b", r.HostID())

	_, err = r.ApplyPlayerMutation(Mutation{Op: OpStatus, PlayerID: "b", Status: models.PlayerForfeited})
	require.NoError(t, err)
	assert.Empty(t, r.HostID())
	_, err = r.ApplyPlayerMutation(Mutation{Op: OpSetHost, PlayerID: "b"})
	assert.ErrorIs(t, err, ErrTombstoned)
}

func TestDuplicateAndUnknown(t *testing.T) {
	r := New()
	join(t, r, "a")
	_, err := r.ApplyPlayerMutation(Mutation{Op: OpJoin, PlayerID: "a"})
	assert.ErrorIs(t, err, ErrDuplicatePlayer)
	_, err = r.ApplyPlayerMutation(Mutation{Op: OpProfile, PlayerID: "zz"})
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestRegenerationIsDeterministic(t *testing.T) {
	build := func() []byte {
		r := New()
		for _, id := range []string{"c", "a", "b"} {
			join(t, r, id)
		}
		_, err := r.ApplyPlayerMutation(Mutation{Op: OpStatus, PlayerID: "a", Status: models.PlayerDisconnected})
		require.NoError(t, err)
		_, err = r.ApplyPlayerMutation(Mutation{Op: OpSetHost, PlayerID: "c"})
		require.NoError(t, err)
		out, err := json.Marshal(r.Views())
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, string(build()), string(build()))
}

func TestVerifyRepairsDrift(t *testing.T) {
	r := New()
	join(t, r, "a")
	join(t, r, "b")

	// Simulate a stale projection.
	r.views.Ordered = r.views.Ordered[:1]
	err := r.Verify()
	require.ErrorIs(t, err, ErrDrift)
	assert.Len(t, r.Views().Ordered, 2)
	assert.NoError(t, r.Verify())
}

func TestRestoreKeepsOrdinals(t *testing.T) {
	r := Restore([]models.Player{
		{ID: "x", Ordinal: 4, Status: models.PlayerActive},
		{ID: "y", Ordinal: 1, Status: models.PlayerActive},
	})
	assert.Equal(t, []string{"y", "x"}, r.ActiveIDs())
	p := join(t, r, "z")
	assert.Equal(t, 5, p.Ordinal)
}
