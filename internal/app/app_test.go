package app

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	dbm "github.com/cosmos/cosmos-db"

	"oddeven/apps/chain/internal/codec"
	"oddeven/apps/chain/internal/commitment"
	"oddeven/apps/chain/internal/game"
	"oddeven/apps/chain/internal/state"
	"oddeven/apps/chain/internal/store"
)

const (
	testCost   = 100
	testWindow = 60
)

var testNonce atomic.Uint64

func testParams() game.Params {
	return game.Params{GameCost: testCost, RevealWindowSecs: testWindow}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func txBytes(t *testing.T, typ string, value any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{
		"type":  typ,
		"value": value,
	})
}

func testEd25519Key(id string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("oddeven/test-key/" + id))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

func txBytesSigned(t *testing.T, typ string, value any, signer string) []byte {
	t.Helper()
	valueBytes := mustMarshal(t, value)
	nonce := strconv.FormatUint(testNonce.Add(1), 10)
	_, priv := testEd25519Key(signer)
	sig := ed25519.Sign(priv, txAuthSignBytesV0(typ, valueBytes, nonce, signer))
	return mustMarshal(t, codec.TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    sig,
	})
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func countEvents(events []abci.Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func newTestAppWithDB(t *testing.T, db dbm.DB) *OddEvenApp {
	t.Helper()
	a, err := New(store.New(db), testParams(), log.NewNopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func newTestApp(t *testing.T) *OddEvenApp {
	t.Helper()
	return newTestAppWithDB(t, dbm.NewMemDB())
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != 0 {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

func mustCode(t *testing.T, res *abci.ExecTxResult, code uint32) {
	t.Helper()
	if res.Code != code {
		t.Fatalf("expected code=%d, got code=%d log=%q", code, res.Code, res.Log)
	}
	if res.Codespace != game.Codespace {
		t.Fatalf("expected codespace %q, got %q", game.Codespace, res.Codespace)
	}
}

func mintTestTokens(t *testing.T, a *OddEvenApp, height int64, to string, amount uint64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytes(t, "bank/mint", map[string]any{"to": to, "amount": amount}), height, 0))
}

func registerTestAccount(t *testing.T, a *OddEvenApp, height int64, account string) {
	t.Helper()
	pub, _ := testEd25519Key(account)
	mustOk(t, a.deliverTx(txBytesSigned(t, "auth/register_account", map[string]any{
		"account": account,
		"pubKey":  []byte(pub),
	}, account), height, 0))
}

func fundedAccount(t *testing.T, a *OddEvenApp, height int64, name string, amount uint64) {
	t.Helper()
	registerTestAccount(t, a, height, name)
	if amount > 0 {
		mintTestTokens(t, a, height, name, amount)
	}
}

func startTx(t *testing.T, player, word string, stake uint64) []byte {
	t.Helper()
	return txBytesSigned(t, "game/start", map[string]any{
		"player":  player,
		"hashOdd": commitment.Commit(word).String(),
		"stake":   stake,
	}, player)
}

func joinTx(t *testing.T, player, word string, stake uint64) []byte {
	t.Helper()
	return txBytesSigned(t, "game/join", map[string]any{
		"player":    player,
		"magicWord": word,
		"stake":     stake,
	}, player)
}

func revealTx(t *testing.T, player, word string) []byte {
	t.Helper()
	return txBytesSigned(t, "game/reveal", map[string]any{
		"player":    player,
		"magicWord": word,
	}, player)
}

func judgeTx(t *testing.T, caller string) []byte {
	t.Helper()
	return txBytesSigned(t, "game/judge", map[string]any{"caller": caller}, caller)
}

// setupJoinedGame leaves game 1 in WaitingForOddToReveal with endTime = 1000+testWindow.
func setupJoinedGame(t *testing.T, oddWord, evenWord string) *OddEvenApp {
	t.Helper()
	const height = int64(1)
	a := newTestApp(t)
	fundedAccount(t, a, height, "alice", testCost)
	fundedAccount(t, a, height, "bob", testCost)
	mustOk(t, a.deliverTx(startTx(t, "alice", oddWord, testCost), height, 900))
	mustOk(t, a.deliverTx(joinTx(t, "bob", evenWord, testCost), height, 1000))
	return a
}

func TestRevealFlow_OddWins(t *testing.T) {
	const height = int64(2)
	a := setupJoinedGame(t, "a", "bb")

	if got := a.st.Balance(state.EscrowAccount); got != 2*testCost {
		t.Fatalf("escrow=%d want %d", got, 2*testCost)
	}

	res := mustOk(t, a.deliverTx(revealTx(t, "alice", "a"), height, 1001))
	rev := findEvent(res.Events, "MagicWordRevealed")
	if rev == nil {
		t.Fatalf("expected MagicWordRevealed event")
	}
	if attr(rev, "totalLength") != "3" {
		t.Fatalf("totalLength=%q want 3", attr(rev, "totalLength"))
	}
	settled := findEvent(res.Events, "GameSettled")
	if attr(settled, "winner") != "odd" || attr(settled, "winnerAddr") != "alice" || attr(settled, "variant") != "reveal" {
		t.Fatalf("unexpected settlement: %+v", settled)
	}
	if n := countEvents(res.Events, "PayoutSent"); n != 1 {
		t.Fatalf("expected 1 PayoutSent, got %d", n)
	}
	if a.st.Balance("alice") != 2*testCost || a.st.Balance("bob") != 0 {
		t.Fatalf("unexpected balances: alice=%d bob=%d", a.st.Balance("alice"), a.st.Balance("bob"))
	}
	if a.st.Balance(state.EscrowAccount) != 0 {
		t.Fatalf("escrow not drained")
	}
	if a.ActiveGame() != nil {
		t.Fatalf("expected no active game")
	}
	fin := a.FinishedGames()
	if len(fin) != 1 || fin[0].MagicWordOdd == nil || *fin[0].MagicWordOdd != "a" {
		t.Fatalf("unexpected finished games: %+v", fin)
	}
}

func TestRevealFlow_EvenWins(t *testing.T) {
	a := setupJoinedGame(t, "cat", "dog")
	res := mustOk(t, a.deliverTx(revealTx(t, "alice", "cat"), 2, 1001))
	if attr(findEvent(res.Events, "GameSettled"), "winner") != "even" {
		t.Fatalf("expected even to win with total 6")
	}
	if a.st.Balance("bob") != 2*testCost {
		t.Fatalf("bob=%d want %d", a.st.Balance("bob"), 2*testCost)
	}
}

func TestReveal_MismatchIsRetryable(t *testing.T) {
	a := setupJoinedGame(t, "cat", "dog")
	before := a.st.AppHash()

	mustCode(t, a.deliverTx(revealTx(t, "alice", "cow"), 2, 1001), game.ErrCommitmentMismatch.ABCICode())
	if g := a.ActiveGame(); g == nil || g.Status != game.StatusWaitingForOddToReveal || g.MagicWordOdd != nil {
		t.Fatalf("game changed after mismatch: %+v", g)
	}
	if string(before) != string(a.st.AppHash()) {
		t.Fatalf("state changed after failed reveal")
	}

	mustOk(t, a.deliverTx(revealTx(t, "alice", "cat"), 2, 1002))
}

func TestReveal_OnlyOdd(t *testing.T) {
	a := setupJoinedGame(t, "cat", "dog")
	mustCode(t, a.deliverTx(revealTx(t, "bob", "cat"), 2, 1001), game.ErrNotAuthorized.ABCICode())
}

func TestJudgeFlow_PaysFeeAfterDeadline(t *testing.T) {
	a := setupJoinedGame(t, "a", "cat")
	fundedAccount(t, a, 2, "carol", 0)

	mustCode(t, a.deliverTx(judgeTx(t, "carol"), 2, 1000+testWindow-1), game.ErrTooEarly.ABCICode())

	res := mustOk(t, a.deliverTx(judgeTx(t, "carol"), 3, 1000+testWindow))
	judged := findEvent(res.Events, "GameJudged")
	if attr(judged, "judge") != "carol" || attr(judged, "judgeFee") != "10" {
		t.Fatalf("unexpected GameJudged: %+v", judged)
	}
	if n := countEvents(res.Events, "PayoutSent"); n != 2 {
		t.Fatalf("expected 2 PayoutSent, got %d", n)
	}
	if a.st.Balance("carol") != 10 || a.st.Balance("bob") != 190 || a.st.Balance("alice") != 0 {
		t.Fatalf("unexpected balances: carol=%d bob=%d alice=%d", a.st.Balance("carol"), a.st.Balance("bob"), a.st.Balance("alice"))
	}

	g := a.Game(1)
	if g.Judge == nil || *g.Judge != "carol" || g.TotalLength != 0 || g.MagicWordOdd != nil {
		t.Fatalf("unexpected judged game: %+v", g)
	}

	// Second judge and late reveal both see a finished game.
	mustCode(t, a.deliverTx(judgeTx(t, "carol"), 3, 2000), game.ErrWrongPhase.ABCICode())
	mustCode(t, a.deliverTx(revealTx(t, "alice", "a"), 3, 2000), game.ErrWrongPhase.ABCICode())
}

func TestJudge_EvenAsJudgeTakesWholePool(t *testing.T) {
	a := setupJoinedGame(t, "a", "cat")
	mustOk(t, a.deliverTx(judgeTx(t, "bob"), 2, 1000+testWindow))
	if n := countEvents(a.deliverTx(judgeTx(t, "bob"), 2, 5000).Events, "PayoutSent"); n != 0 {
		t.Fatalf("failed judge must not emit payouts")
	}
	if a.st.Balance("bob") != 2*testCost {
		t.Fatalf("bob=%d want %d", a.st.Balance("bob"), 2*testCost)
	}
}

func TestRevealAfterDeadlineBeforeJudge(t *testing.T) {
	a := setupJoinedGame(t, "a", "bb")
	mustOk(t, a.deliverTx(revealTx(t, "alice", "a"), 2, 1000+testWindow+500))
	if a.st.Balance("alice") != 2*testCost {
		t.Fatalf("alice=%d want %d", a.st.Balance("alice"), 2*testCost)
	}
}

func TestStartAndJoin_Errors(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	fundedAccount(t, a, height, "alice", 2*testCost)
	fundedAccount(t, a, height, "bob", 2*testCost)

	mustCode(t, a.deliverTx(startTx(t, "alice", "cat", testCost-1), height, 1), game.ErrInsufficientStake.ABCICode())
	mustCode(t, a.deliverTx(joinTx(t, "bob", "dog", testCost), height, 1), game.ErrWrongPhase.ABCICode())

	res := mustOk(t, a.deliverTx(startTx(t, "alice", "cat", testCost), height, 1))
	started := findEvent(res.Events, "GameStarted")
	if parseU64(t, attr(started, "gameId")) != 1 {
		t.Fatalf("expected game id 1, got %q", attr(started, "gameId"))
	}
	if attr(started, "hashOdd") != commitment.Commit("cat").String() {
		t.Fatalf("unexpected hashOdd: %q", attr(started, "hashOdd"))
	}

	mustCode(t, a.deliverTx(startTx(t, "bob", "dog", testCost), height, 2), game.ErrGameAlreadyActive.ABCICode())
	mustCode(t, a.deliverTx(joinTx(t, "bob", "dog", testCost+1), height, 2), game.ErrInsufficientStake.ABCICode())
	mustCode(t, a.deliverTx(joinTx(t, "bob", "", testCost), height, 2), game.ErrEmptyWord.ABCICode())
	mustCode(t, a.deliverTx(joinTx(t, "alice", "dog", testCost), height, 2), game.ErrSelfJoin.ABCICode())
	mustCode(t, a.deliverTx(judgeTx(t, "bob"), height, 2), game.ErrWrongPhase.ABCICode())

	res = mustOk(t, a.deliverTx(joinTx(t, "bob", "dog", testCost), height, 5))
	joined := findEvent(res.Events, "PlayerEvenJoined")
	if attr(joined, "endTime") != fmt.Sprintf("%d", 5+testWindow) {
		t.Fatalf("endTime=%q want %d", attr(joined, "endTime"), 5+testWindow)
	}
}

func TestGameTx_RequiresSignature(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	mintTestTokens(t, a, height, "alice", testCost)

	res := a.deliverTx(txBytes(t, "game/start", map[string]any{
		"player":  "alice",
		"hashOdd": commitment.Commit("cat").String(),
		"stake":   testCost,
	}), height, 1)
	if res.Code == 0 {
		t.Fatalf("expected unsigned start to be rejected")
	}

	// Signed by someone else.
	registerTestAccount(t, a, height, "mallory")
	res = a.deliverTx(txBytesSigned(t, "game/start", map[string]any{
		"player":  "alice",
		"hashOdd": commitment.Commit("cat").String(),
		"stake":   testCost,
	}, "mallory"), height, 1)
	if res.Code == 0 {
		t.Fatalf("expected signer mismatch to be rejected")
	}
	if a.ActiveGame() != nil {
		t.Fatalf("no game should be active")
	}
}

func TestFinalizeBlock_UsesBlockTime(t *testing.T) {
	a := setupJoinedGame(t, "a", "cat")
	fundedAccount(t, a, 2, "carol", 0)

	early := time.Unix(1000+testWindow-1, 0)
	resp, err := a.FinalizeBlock(context.Background(), &abci.FinalizeBlockRequest{
		Height: 3,
		Time:   early,
		Txs:    [][]byte{judgeTx(t, "carol")},
	})
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	if resp.TxResults[0].Code != game.ErrTooEarly.ABCICode() {
		t.Fatalf("expected TooEarly, got code=%d log=%q", resp.TxResults[0].Code, resp.TxResults[0].Log)
	}

	resp, err = a.FinalizeBlock(context.Background(), &abci.FinalizeBlockRequest{
		Height: 4,
		Time:   early.Add(time.Second),
		Txs:    [][]byte{judgeTx(t, "carol")},
	})
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	mustOk(t, resp.TxResults[0])
	if string(resp.AppHash) != string(a.st.AppHash()) {
		t.Fatalf("response app hash does not match state")
	}
}

func TestCommit_PersistsAcrossRestart(t *testing.T) {
	db := dbm.NewMemDB()
	a := newTestAppWithDB(t, db)
	fundedAccount(t, a, 1, "alice", testCost)
	mustOk(t, a.deliverTx(startTx(t, "alice", "cat", testCost), 1, 10))

	resp, err := a.FinalizeBlock(context.Background(), &abci.FinalizeBlockRequest{Height: 1, Time: time.Unix(10, 0)})
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	if _, err := a.Commit(context.Background(), &abci.CommitRequest{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	b := newTestAppWithDB(t, db)
	info, err := b.Info(context.Background(), &abci.InfoRequest{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.LastBlockHeight != 1 {
		t.Fatalf("height=%d want 1", info.LastBlockHeight)
	}
	if string(info.LastBlockAppHash) != string(resp.AppHash) {
		t.Fatalf("app hash changed across restart")
	}
	g := b.ActiveGame()
	if g == nil || g.PlayerOdd != "alice" {
		t.Fatalf("active game not restored: %+v", g)
	}
}

func TestInitChain_Genesis(t *testing.T) {
	a := newTestApp(t)
	_, err := a.InitChain(context.Background(), &abci.InitChainRequest{
		ChainId:       "oddeven-test",
		AppStateBytes: []byte(`{"params":{"gameCost":7,"revealWindowSecs":30},"accounts":{"alice":70}}`),
	})
	if err != nil {
		t.Fatalf("InitChain: %v", err)
	}
	if p := a.Params(); p.GameCost != 7 || p.RevealWindowSecs != 30 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if a.Balance("alice") != 70 {
		t.Fatalf("alice=%d want 70", a.Balance("alice"))
	}

	_, err = a.InitChain(context.Background(), &abci.InitChainRequest{
		AppStateBytes: []byte(`{"params":{"gameCost":0,"revealWindowSecs":30}}`),
	})
	if err == nil {
		t.Fatalf("expected invalid params to be rejected")
	}
}

func TestQuery_Paths(t *testing.T) {
	a := setupJoinedGame(t, "a", "bb")
	ctx := context.Background()

	q := func(path string) *abci.QueryResponse {
		t.Helper()
		res, err := a.Query(ctx, &abci.QueryRequest{Path: path})
		if err != nil {
			t.Fatalf("Query(%s): %v", path, err)
		}
		return res
	}

	res := q("/game/active")
	if res.Code != 0 {
		t.Fatalf("/game/active: code=%d log=%q", res.Code, res.Log)
	}
	var g game.Game
	if err := json.Unmarshal(res.Value, &g); err != nil {
		t.Fatalf("decode game: %v", err)
	}
	if g.ID != 1 || g.Status != game.StatusWaitingForOddToReveal {
		t.Fatalf("unexpected active game: %+v", g)
	}

	mustOk(t, a.deliverTx(revealTx(t, "alice", "a"), 2, 1001))

	if res := q("/game/active"); res.Code == 0 {
		t.Fatalf("expected no active game")
	}
	res = q("/games/finished")
	var fin []game.Game
	if err := json.Unmarshal(res.Value, &fin); err != nil {
		t.Fatalf("decode finished: %v", err)
	}
	if len(fin) != 1 || fin[0].Winner != game.RoleOdd {
		t.Fatalf("unexpected finished games: %+v", fin)
	}

	if res := q("/game/1"); res.Code != 0 {
		t.Fatalf("/game/1: code=%d", res.Code)
	}
	if res := q("/game/2"); res.Code == 0 {
		t.Fatalf("expected /game/2 not found")
	}
	if res := q("/game/x"); res.Code == 0 {
		t.Fatalf("expected invalid id error")
	}

	res = q("/params")
	var p game.Params
	if err := json.Unmarshal(res.Value, &p); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if p != testParams() {
		t.Fatalf("unexpected params: %+v", p)
	}

	res = q("/account/alice")
	var acct struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(res.Value, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Balance != 2*testCost {
		t.Fatalf("alice balance=%d want %d", acct.Balance, 2*testCost)
	}

	if res := q("/nope"); res.Code == 0 {
		t.Fatalf("expected unknown path error")
	}
}
