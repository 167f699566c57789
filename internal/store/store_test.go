package store

import (
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"oddeven/apps/chain/internal/commitment"
	"oddeven/apps/chain/internal/game"
	"oddeven/apps/chain/internal/state"
)

var testParams = game.Params{GameCost: 100, RevealWindowSecs: 60}

func TestLoad_EmptyDBUsesDefaults(t *testing.T) {
	s := New(dbm.NewMemDB())
	st, err := s.Load(testParams)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.Height)
	require.Equal(t, testParams, st.Params)
	require.Equal(t, uint64(1), st.Games.NextID)
	require.Nil(t, st.Games.Active())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	db := dbm.NewMemDB()
	st := state.NewState(testParams)
	st.Height = 12
	st.Accounts["odd"] = 100
	st.Accounts["even"] = 250
	st.AccountKeys["odd"] = []byte{1, 2, 3}
	st.NonceMax["odd"] = 4

	eng := st.Engine()
	_, err := eng.Start("odd", commitment.Commit("a"), 100, 1000)
	require.NoError(t, err)
	_, err = eng.Join("even", "bb", 100, 1001)
	require.NoError(t, err)

	require.NoError(t, New(db).Save(st))

	got, err := New(db).Load(game.DefaultParams())
	require.NoError(t, err)
	require.Equal(t, st.AppHash(), got.AppHash())
	require.Equal(t, testParams, got.Params)
	require.Equal(t, uint64(150), got.Balance("even"))
	require.Equal(t, uint64(200), got.Balance(state.EscrowAccount))
	require.Equal(t, []byte{1, 2, 3}, got.AccountKeys["odd"])
	require.Equal(t, uint64(4), got.NonceMax["odd"])

	active := got.Games.Active()
	require.NotNil(t, active)
	require.Equal(t, game.StatusWaitingForOddToReveal, active.Status)
	require.Equal(t, commitment.Commit("a"), active.HashOdd)
}

func TestSave_ActiveGameUpdatedUntilFinished(t *testing.T) {
	db := dbm.NewMemDB()
	s := New(db)
	st := state.NewState(testParams)
	st.Accounts["odd"] = 100
	st.Accounts["even"] = 100
	eng := st.Engine()

	_, err := eng.Start("odd", commitment.Commit("a"), 100, 1000)
	require.NoError(t, err)
	require.NoError(t, s.Save(st))

	_, err = eng.Join("even", "bb", 100, 1001)
	require.NoError(t, err)
	_, _, err = eng.Reveal("odd", "a")
	require.NoError(t, err)
	require.NoError(t, s.Save(st))

	got, err := New(db).Load(testParams)
	require.NoError(t, err)
	g := got.Games.Get(1)
	require.NotNil(t, g)
	require.Equal(t, game.StatusFinished, g.Status)
	require.Equal(t, game.RoleOdd, g.Winner)
	require.Equal(t, uint64(200), got.Balance("odd"))
}

func TestSave_FinishedGamesWrittenOnce(t *testing.T) {
	db := dbm.NewMemDB()
	s := New(db)
	st := state.NewState(testParams)
	st.Accounts["odd"] = 100
	st.Accounts["even"] = 100
	eng := st.Engine()

	_, err := eng.Start("odd", commitment.Commit("a"), 100, 1000)
	require.NoError(t, err)
	_, err = eng.Join("even", "bb", 100, 1001)
	require.NoError(t, err)
	_, _, err = eng.Reveal("odd", "a")
	require.NoError(t, err)
	require.NoError(t, s.Save(st))

	// A later in-memory edit of a sealed record must not reach the database.
	st.Games.Games[0].TotalLength = 99
	require.NoError(t, s.Save(st))

	got, err := New(db).Load(testParams)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Games.Get(1).TotalLength)
}

func TestSave_ReopenedStoreKeepsSealedGames(t *testing.T) {
	db := dbm.NewMemDB()
	st := state.NewState(testParams)
	st.Accounts["odd"] = 100
	st.Accounts["even"] = 100
	eng := st.Engine()
	_, err := eng.Start("odd", commitment.Commit("a"), 100, 1000)
	require.NoError(t, err)
	_, err = eng.Join("even", "cat", 100, 1001)
	require.NoError(t, err)
	_, _, err = eng.Judge("judge", 1061)
	require.NoError(t, err)
	require.NoError(t, New(db).Save(st))

	s := New(db)
	loaded, err := s.Load(testParams)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.sealed)

	loaded.Games.Games[0].JudgeFee = 0
	loaded.Height = 2
	require.NoError(t, s.Save(loaded))

	again, err := New(db).Load(testParams)
	require.NoError(t, err)
	require.Equal(t, int64(2), again.Height)
	require.Equal(t, uint64(10), again.Games.Get(1).JudgeFee)
	require.Equal(t, uint64(10), again.Balance("judge"))
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte{0x03}, prefixEnd([]byte{0x02}))
	require.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	require.Nil(t, prefixEnd([]byte{0xff}))
}
