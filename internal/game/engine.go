package game

import (
	"sync"

	"oddeven/apps/chain/internal/commitment"
)

// Ledger custodies stakes. Escrow moves a player's stake into the game pool;
// Settle pays a pool out and must apply every amount or none.
type Ledger interface {
	Escrow(from Address, amount uint64) error
	Settle(p Payout) error
}

// Engine serializes game operations over a Registry and keeps the ledger in
// step with every transition. Each command either fully applies (game change
// plus fund movement) or leaves both untouched.
type Engine struct {
	mu     sync.Mutex
	reg    *Registry
	ledger Ledger
	params Params
}

func NewEngine(reg *Registry, ledger Ledger, params Params) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Engine{reg: reg, ledger: ledger, params: params}
}

func (e *Engine) StakeCost() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.GameCost
}

// ActiveGame returns a copy of the game in flight, or nil.
func (e *Engine) ActiveGame() *Game {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Active().Clone()
}

// FinishedGames returns copies of finished games, most recent first.
func (e *Engine) FinishedGames() []*Game {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.reg.Finished())
}

func (e *Engine) Game(id uint64) *Game {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Get(id).Clone()
}

func (e *Engine) Start(caller Address, hash commitment.Hash, stake uint64, nowUnix int64) (*Game, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.reg.Start(caller, hash, e.params.GameCost, stake, nowUnix, e.ledger)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) Join(caller Address, word string, stake uint64, nowUnix int64) (*Game, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.reg.Join(caller, word, stake, nowUnix, e.params.RevealWindowSecs, e.ledger)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (e *Engine) Reveal(caller Address, word string) (*Game, Payout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, p, err := e.reg.Reveal(caller, word, e.ledger)
	if err != nil {
		return nil, Payout{}, err
	}
	return g.Clone(), p, nil
}

func (e *Engine) Judge(caller Address, nowUnix int64) (*Game, Payout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, p, err := e.reg.Judge(caller, nowUnix, e.ledger)
	if err != nil {
		return nil, Payout{}, err
	}
	return g.Clone(), p, nil
}

func cloneAll(games []*Game) []*Game {
	out := make([]*Game, 0, len(games))
	for _, g := range games {
		out = append(out, g.Clone())
	}
	return out
}
