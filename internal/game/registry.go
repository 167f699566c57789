package game

import (
	"sort"

	"oddeven/apps/chain/internal/commitment"
)

// Registry is the append-only history of games. Ids are sequential and at most
// one game is active (not finished) at a time; the active game is always the
// newest one.
type Registry struct {
	NextID uint64  `json:"nextGameId"`
	Games  []*Game `json:"games"`
}

func NewRegistry() *Registry {
	return &Registry{NextID: 1}
}

// Start creates a game in WaitingForEvenToJoin with odd's commitment. The game
// is recorded only after ledger (which may be nil) has escrowed odd's stake.
func (r *Registry) Start(odd Address, hash commitment.Hash, cost, stake uint64, nowUnix int64, ledger Ledger) (*Game, error) {
	g, err := r.newGame(odd, hash, cost, stake, nowUnix)
	if err != nil {
		return nil, err
	}
	if err := escrow(ledger, odd, stake); err != nil {
		return nil, err
	}
	r.append(g)
	return g, nil
}

func (r *Registry) newGame(odd Address, hash commitment.Hash, cost, stake uint64, nowUnix int64) (*Game, error) {
	if active := r.Active(); active != nil {
		return nil, ErrGameAlreadyActive.Wrapf("game %d is %s", active.ID, active.Status)
	}
	if odd == "" {
		return nil, ErrInvalidRequest.Wrap("missing player")
	}
	if hash.IsZero() {
		return nil, ErrInvalidRequest.Wrap("missing hashOdd")
	}
	if cost == 0 {
		return nil, ErrInvalidRequest.Wrap("game cost must be > 0")
	}
	if _, err := poolFor(cost); err != nil {
		return nil, err
	}
	if stake != cost {
		return nil, ErrInsufficientStake.Wrapf("stake=%d cost=%d", stake, cost)
	}
	id := r.NextID
	if id == 0 {
		id = 1
	}
	if id == ^uint64(0) {
		return nil, ErrInvalidRequest.Wrap("game id overflows uint64")
	}
	return &Game{
		ID:        id,
		Status:    StatusWaitingForEvenToJoin,
		Cost:      cost,
		PlayerOdd: odd,
		HashOdd:   hash,
		StartTime: nowUnix,
	}, nil
}

func (r *Registry) append(g *Game) {
	r.Games = append(r.Games, g)
	r.NextID = g.ID + 1
}

// Active returns the game in flight, or nil.
func (r *Registry) Active() *Game {
	if len(r.Games) == 0 {
		return nil
	}
	last := r.Games[len(r.Games)-1]
	if !last.IsActive() {
		return nil
	}
	return last
}

// Join seats even in the active game. Transitions run on a copy that replaces
// the registry record only once the ledger has accepted the fund movement.
func (r *Registry) Join(even Address, word string, stake uint64, nowUnix int64, windowSecs uint64, ledger Ledger) (*Game, error) {
	cur, err := r.requireActive("join")
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := next.Join(even, word, stake, nowUnix, windowSecs); err != nil {
		return nil, err
	}
	if err := escrow(ledger, even, stake); err != nil {
		return nil, err
	}
	*cur = *next
	return cur, nil
}

// Reveal settles the active game with odd's word.
func (r *Registry) Reveal(caller Address, word string, ledger Ledger) (*Game, Payout, error) {
	cur, err := r.requireActive("reveal")
	if err != nil {
		return nil, Payout{}, err
	}
	next := cur.Clone()
	p, err := next.Reveal(caller, word)
	if err != nil {
		return nil, Payout{}, err
	}
	if err := settle(ledger, p); err != nil {
		return nil, Payout{}, err
	}
	*cur = *next
	return cur, p, nil
}

// Judge settles the active game after its reveal deadline.
func (r *Registry) Judge(caller Address, nowUnix int64, ledger Ledger) (*Game, Payout, error) {
	cur, err := r.requireActive("judge")
	if err != nil {
		return nil, Payout{}, err
	}
	next := cur.Clone()
	p, err := next.JudgeTimeout(caller, nowUnix)
	if err != nil {
		return nil, Payout{}, err
	}
	if err := settle(ledger, p); err != nil {
		return nil, Payout{}, err
	}
	*cur = *next
	return cur, p, nil
}

func escrow(l Ledger, from Address, amount uint64) error {
	if l == nil {
		return nil
	}
	return l.Escrow(from, amount)
}

func settle(l Ledger, p Payout) error {
	if l == nil {
		return nil
	}
	return l.Settle(p)
}

func (r *Registry) requireActive(op string) (*Game, error) {
	g := r.Active()
	if g == nil {
		return nil, ErrWrongPhase.Wrapf("%s: no active game", op)
	}
	return g, nil
}

// Finished returns finished games, most recent first. The slice is rebuilt on
// every call.
func (r *Registry) Finished() []*Game {
	out := make([]*Game, 0, len(r.Games))
	for i := len(r.Games) - 1; i >= 0; i-- {
		if r.Games[i].Status == StatusFinished {
			out = append(out, r.Games[i])
		}
	}
	return out
}

// Get looks a game up by id.
func (r *Registry) Get(id uint64) *Game {
	i := sort.Search(len(r.Games), func(i int) bool { return r.Games[i].ID >= id })
	if i < len(r.Games) && r.Games[i].ID == id {
		return r.Games[i]
	}
	return nil
}

// All returns every game in ascending id order.
func (r *Registry) All() []*Game {
	return r.Games
}
