package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"oddeven/apps/chain/internal/codec"
	"oddeven/apps/chain/internal/game"
	"oddeven/apps/chain/internal/state"
	"oddeven/apps/chain/internal/store"
)

const (
	AppVersion uint64 = 1
)

type OddEvenApp struct {
	*abci.BaseApplication

	logger log.Logger
	store  *store.Store

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

// New loads the last committed state from db. params apply only to a fresh
// chain; a persisted chain keeps its own.
func New(db *store.Store, params game.Params, logger log.Logger) (*OddEvenApp, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	st, err := db.Load(params)
	if err != nil {
		return nil, err
	}
	a := &OddEvenApp{
		BaseApplication: abci.NewBaseApplication(),
		logger:          logger.With(log.ModuleKey, "oddeven"),
		store:           db,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *OddEvenApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "oddeven (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *OddEvenApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; signatures/auth run in FinalizeBlock.
	return &abci.CheckTxResponse{Code: 0}, nil
}

// Genesis is the optional app_state of genesis.json.
type Genesis struct {
	Params   *game.Params      `json:"params,omitempty"`
	Accounts map[string]uint64 `json:"accounts,omitempty"`
}

func (a *OddEvenApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) == 0 {
		return &abci.InitChainResponse{}, nil
	}
	var gen Genesis
	if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
		return nil, fmt.Errorf("decode genesis app_state: %w", err)
	}
	if gen.Params != nil {
		if err := gen.Params.Validate(); err != nil {
			return nil, fmt.Errorf("genesis params: %w", err)
		}
		a.st.Params = *gen.Params
	}
	for addr, amt := range gen.Accounts {
		if addr == state.EscrowAccount {
			return nil, fmt.Errorf("genesis account %q is reserved", addr)
		}
		if err := a.st.Credit(addr, amt); err != nil {
			return nil, fmt.Errorf("genesis account %q: %w", addr, err)
		}
	}
	a.lastHash = a.st.AppHash()
	a.logger.Info("initialized chain", "chainId", req.ChainId, "gameCost", a.st.Params.GameCost, "accounts", len(gen.Accounts))
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *OddEvenApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *OddEvenApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Save(a.st); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	a.logger.Debug("committed block", "height", a.st.Height, "appHash", fmt.Sprintf("%X", a.lastHash))
	return &abci.CommitResponse{}, nil
}

func (a *OddEvenApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /game/active
	// - /games/finished
	// - /game/<id>
	// - /params
	// - /account/<addr>
	eng := a.st.Engine()
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/game/active":
		g := eng.ActiveGame()
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "no active game", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(g)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/games/finished":
		b, _ := json.Marshal(eng.FinishedGames())
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/params":
		b, _ := json.Marshal(a.st.Params)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/game/"):
		raw := strings.TrimPrefix(path, "/game/")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid game id", Height: a.st.Height}, nil
		}
		g := eng.Game(id)
		if g == nil {
			return &abci.QueryResponse{Code: 1, Log: "game not found", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(g)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// deliverTx executes one tx against a clone of the state and keeps the clone
// only if the tx succeeds.
func (a *OddEvenApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	next, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	res := a.applyTx(next, env, nowUnix)
	if res.Code != 0 {
		a.logger.Debug("tx rejected", "height", height, "type", env.Type, "code", res.Code, "log", res.Log)
		return res
	}
	a.st = next
	return res
}

func (a *OddEvenApp) applyTx(st *state.State, env codec.TxEnvelope, nowUnix int64) *abci.ExecTxResult {
	switch env.Type {
	case "bank/mint":
		// v0 localnet faucet: unsigned.
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/mint value"}
		}
		if msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing to/amount"}
		}
		if msg.To == state.EscrowAccount {
			return &abci.ExecTxResult{Code: 1, Log: "cannot mint to escrow"}
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return errResult(err)
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/send value"}
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: 1, Log: "missing from/to/amount"}
		}
		if msg.To == state.EscrowAccount || msg.From == state.EscrowAccount {
			return &abci.ExecTxResult{Code: 1, Log: "cannot send to or from escrow"}
		}
		if err := authorize(st, env, msg.From); err != nil {
			return errResult(err)
		}
		if err := st.Transfer(msg.From, msg.To, msg.Amount); err != nil {
			return errResult(err)
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad auth/register_account value"}
		}
		if msg.Account == state.EscrowAccount {
			return &abci.ExecTxResult{Code: 1, Log: "escrow account is reserved"}
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return errResult(err)
		}
		if _, exists := st.AccountKeys[msg.Account]; exists {
			return &abci.ExecTxResult{Code: 1, Log: "account already registered"}
		}
		if err := consumeNonce(st, env); err != nil {
			return errResult(err)
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "game/start":
		var msg codec.GameStartTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad game/start value"}
		}
		if err := authorize(st, env, msg.Player); err != nil {
			return errResult(err)
		}
		g, err := st.Engine().Start(game.Address(msg.Player), msg.HashOdd, msg.Stake, nowUnix)
		if err != nil {
			return errResult(err)
		}
		a.logger.Info("game started", "gameId", g.ID, "playerOdd", g.PlayerOdd, "cost", g.Cost)
		return okEvent("GameStarted", map[string]string{
			"gameId":    fmt.Sprintf("%d", g.ID),
			"playerOdd": string(g.PlayerOdd),
			"hashOdd":   g.HashOdd.String(),
			"cost":      fmt.Sprintf("%d", g.Cost),
			"startTime": fmt.Sprintf("%d", g.StartTime),
		})

	case "game/join":
		var msg codec.GameJoinTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad game/join value"}
		}
		if err := authorize(st, env, msg.Player); err != nil {
			return errResult(err)
		}
		g, err := st.Engine().Join(game.Address(msg.Player), msg.MagicWord, msg.Stake, nowUnix)
		if err != nil {
			return errResult(err)
		}
		return okEvent("PlayerEvenJoined", map[string]string{
			"gameId":        fmt.Sprintf("%d", g.ID),
			"playerEven":    msg.Player,
			"magicWordEven": g.MagicWordEven,
			"joinedTime":    fmt.Sprintf("%d", g.PlayerEvenJoinedTime),
			"endTime":       fmt.Sprintf("%d", g.EndTime),
		})

	case "game/reveal":
		var msg codec.GameRevealTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad game/reveal value"}
		}
		if err := authorize(st, env, msg.Player); err != nil {
			return errResult(err)
		}
		g, p, err := st.Engine().Reveal(game.Address(msg.Player), msg.MagicWord)
		if err != nil {
			return errResult(err)
		}
		res := okEvent("MagicWordRevealed", map[string]string{
			"gameId":       fmt.Sprintf("%d", g.ID),
			"magicWordOdd": msg.MagicWord,
			"totalLength":  fmt.Sprintf("%d", g.TotalLength),
		})
		res.Events = append(res.Events, settlementEvents(g, p)...)
		a.logger.Info("game settled", "gameId", g.ID, "variant", p.Variant, "winner", p.Winner, "pool", p.Pool)
		return res

	case "game/judge":
		var msg codec.GameJudgeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad game/judge value"}
		}
		if err := authorize(st, env, msg.Caller); err != nil {
			return errResult(err)
		}
		g, p, err := st.Engine().Judge(game.Address(msg.Caller), nowUnix)
		if err != nil {
			return errResult(err)
		}
		res := okEvent("GameJudged", map[string]string{
			"gameId":   fmt.Sprintf("%d", g.ID),
			"judge":    msg.Caller,
			"judgeFee": fmt.Sprintf("%d", p.JudgeFee),
			"endTime":  fmt.Sprintf("%d", g.EndTime),
		})
		res.Events = append(res.Events, settlementEvents(g, p)...)
		a.logger.Info("game settled", "gameId", g.ID, "variant", p.Variant, "winner", p.Winner, "pool", p.Pool, "judge", msg.Caller)
		return res

	default:
		return &abci.ExecTxResult{Code: 1, Log: "unknown tx type: " + env.Type}
	}
}

// authorize checks env is signed by account and consumes its nonce.
func authorize(st *state.State, env codec.TxEnvelope, account string) error {
	if err := requireAccountAuth(st, env, account); err != nil {
		return err
	}
	return consumeNonce(st, env)
}

func settlementEvents(g *game.Game, p game.Payout) []abci.Event {
	gameID := fmt.Sprintf("%d", g.ID)
	out := []abci.Event{event("GameSettled", map[string]string{
		"gameId":     gameID,
		"variant":    string(p.Variant),
		"winner":     string(p.Winner),
		"winnerAddr": string(p.WinnerAddr),
		"pool":       fmt.Sprintf("%d", p.Pool),
		"judgeFee":   fmt.Sprintf("%d", p.JudgeFee),
	})}
	for _, to := range p.Recipients() {
		out = append(out, event("PayoutSent", map[string]string{
			"gameId": gameID,
			"to":     string(to),
			"amount": fmt.Sprintf("%d", p.Amounts[to]),
		}))
	}
	return out
}

// errResult maps registered game errors to their ABCI code and codespace.
// Anything else reports the generic code 1.
func errResult(err error) *abci.ExecTxResult {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	if codespace != game.Codespace {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	return &abci.ExecTxResult{Code: code, Codespace: codespace, Log: err.Error()}
}

func event(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{event(typ, attrs)},
	}
}

// ---- Read-only accessors (HTTP API) ----

func (a *OddEvenApp) ActiveGame() *game.Game {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Engine().ActiveGame()
}

func (a *OddEvenApp) FinishedGames() []*game.Game {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Engine().FinishedGames()
}

func (a *OddEvenApp) Game(id uint64) *game.Game {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Engine().Game(id)
}

func (a *OddEvenApp) Params() game.Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Params
}

func (a *OddEvenApp) Balance(addr string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Balance(addr)
}

func (a *OddEvenApp) Height() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Height
}
