package game

// Address identifies an account. It is opaque to the game: any comparable
// non-empty value works, the chain uses bank account names.
type Address string

type Status string

const (
	StatusNotStarted            Status = "notStarted"
	StatusWaitingForEvenToJoin  Status = "waitingForEvenToJoin"
	StatusWaitingForOddToReveal Status = "waitingForOddToReveal"
	StatusFinished              Status = "finished"
)

// Role is the side a player takes in a game.
type Role string

const (
	RoleOdd  Role = "odd"
	RoleEven Role = "even"
)

// Settlement selects how a finished game pays out.
type Settlement string

const (
	SettleReveal Settlement = "reveal"
	SettleJudge  Settlement = "judge"
)

// Params are the chain-wide game settings.
type Params struct {
	// GameCost is the stake each player must put in, in the smallest unit.
	GameCost uint64 `json:"gameCost"`
	// RevealWindowSecs is how long player odd has to reveal after player even joins.
	RevealWindowSecs uint64 `json:"revealWindowSecs"`
}

const (
	// 0.001 of an 18-decimals unit.
	DefaultGameCost         uint64 = 1_000_000_000_000_000
	DefaultRevealWindowSecs uint64 = 600
)

func DefaultParams() Params {
	return Params{
		GameCost:         DefaultGameCost,
		RevealWindowSecs: DefaultRevealWindowSecs,
	}
}

func (p Params) Validate() error {
	if p.GameCost == 0 {
		return ErrInvalidRequest.Wrap("gameCost must be > 0")
	}
	if _, err := poolFor(p.GameCost); err != nil {
		return err
	}
	if p.RevealWindowSecs == 0 {
		return ErrInvalidRequest.Wrap("revealWindowSecs must be > 0")
	}
	return nil
}
