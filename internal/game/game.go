package game

import (
	"fmt"

	"oddeven/apps/chain/internal/commitment"
)

// Game is one odd/even match. Once Status is StatusFinished the record is immutable.
type Game struct {
	ID     uint64 `json:"id"`
	Status Status `json:"status"`
	Cost   uint64 `json:"cost"`

	PlayerOdd  Address  `json:"playerOdd"`
	PlayerEven *Address `json:"playerEven,omitempty"`

	HashOdd       commitment.Hash `json:"hashOdd"`
	MagicWordOdd  *string         `json:"magicWordOdd,omitempty"` // set by a successful reveal only
	MagicWordEven string          `json:"magicWordEven,omitempty"`

	// Unix seconds. PlayerEvenJoinedTime and EndTime are meaningful once PlayerEven is set.
	StartTime            int64 `json:"startTime"`
	PlayerEvenJoinedTime int64 `json:"playerEvenJoinedTime,omitempty"`
	EndTime              int64 `json:"endTime,omitempty"`

	TotalLength uint64   `json:"totalLength"`
	Judge       *Address `json:"judge,omitempty"`
	Winner      Role     `json:"winner,omitempty"`
	JudgeFee    uint64   `json:"judgeFee,omitempty"`
}

func (g *Game) IsActive() bool {
	return g != nil && g.Status != StatusFinished
}

// Clone returns a deep copy so callers cannot mutate registry-owned records.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	if g.PlayerEven != nil {
		even := *g.PlayerEven
		out.PlayerEven = &even
	}
	if g.MagicWordOdd != nil {
		w := *g.MagicWordOdd
		out.MagicWordOdd = &w
	}
	if g.Judge != nil {
		j := *g.Judge
		out.Judge = &j
	}
	return &out
}

// Join seats player even. The deadline for odd's reveal starts now.
func (g *Game) Join(even Address, word string, stake uint64, nowUnix int64, windowSecs uint64) error {
	if g.Status != StatusWaitingForEvenToJoin {
		return ErrWrongPhase.Wrapf("join requires %s, game %d is %s", StatusWaitingForEvenToJoin, g.ID, g.Status)
	}
	if even == "" {
		return ErrInvalidRequest.Wrap("missing player")
	}
	if stake != g.Cost {
		return ErrInsufficientStake.Wrapf("stake=%d cost=%d", stake, g.Cost)
	}
	if len(word) == 0 {
		return ErrEmptyWord
	}
	if even == g.PlayerOdd {
		return ErrSelfJoin
	}
	if windowSecs == 0 {
		return ErrInvalidRequest.Wrap("reveal window must be > 0")
	}
	endTime, err := addInt64AndU64Checked(nowUnix, windowSecs, "reveal deadline")
	if err != nil {
		return ErrInvalidRequest.Wrap(err.Error())
	}

	g.PlayerEven = &even
	g.MagicWordEven = word
	g.PlayerEvenJoinedTime = nowUnix
	g.EndTime = endTime
	g.Status = StatusWaitingForOddToReveal
	return nil
}

// Reveal opens odd's commitment and settles the game. A mismatching word is
// rejected without touching the game so odd can retry.
func (g *Game) Reveal(caller Address, word string) (Payout, error) {
	if g.Status != StatusWaitingForOddToReveal {
		return Payout{}, ErrWrongPhase.Wrapf("reveal requires %s, game %d is %s", StatusWaitingForOddToReveal, g.ID, g.Status)
	}
	if caller != g.PlayerOdd {
		return Payout{}, ErrNotAuthorized.Wrapf("caller %q", caller)
	}
	if !commitment.Verify(word, g.HashOdd) {
		return Payout{}, ErrCommitmentMismatch
	}
	total, err := addUint64Checked(uint64(len(word)), uint64(len(g.MagicWordEven)), "total length")
	if err != nil {
		return Payout{}, ErrInvalidRequest.Wrap(err.Error())
	}
	p, err := ComputePayout(SettlementInput{
		Cost:        g.Cost,
		TotalLength: total,
		Variant:     SettleReveal,
		PlayerOdd:   g.PlayerOdd,
		PlayerEven:  g.even(),
	})
	if err != nil {
		return Payout{}, err
	}

	g.MagicWordOdd = &word
	g.TotalLength = total
	g.Winner = p.Winner
	g.Status = StatusFinished
	return p, nil
}

// JudgeTimeout settles a game whose reveal deadline has passed. Even wins by
// forfeit and the caller earns the judge fee.
func (g *Game) JudgeTimeout(caller Address, nowUnix int64) (Payout, error) {
	if g.Status != StatusWaitingForOddToReveal {
		return Payout{}, ErrWrongPhase.Wrapf("judge requires %s, game %d is %s", StatusWaitingForOddToReveal, g.ID, g.Status)
	}
	if caller == "" {
		return Payout{}, ErrInvalidRequest.Wrap("missing caller")
	}
	if nowUnix < g.EndTime {
		return Payout{}, ErrTooEarly.Wrapf("now=%d endTime=%d", nowUnix, g.EndTime)
	}
	p, err := ComputePayout(SettlementInput{
		Cost:       g.Cost,
		Variant:    SettleJudge,
		PlayerOdd:  g.PlayerOdd,
		PlayerEven: g.even(),
		Judge:      &caller,
	})
	if err != nil {
		return Payout{}, err
	}

	g.Judge = &caller
	g.TotalLength = 0
	g.Winner = p.Winner
	g.JudgeFee = p.JudgeFee
	g.Status = StatusFinished
	return p, nil
}

func (g *Game) even() Address {
	if g.PlayerEven == nil {
		return ""
	}
	return *g.PlayerEven
}

func (g *Game) String() string {
	return fmt.Sprintf("game %d (%s)", g.ID, g.Status)
}
