package game

import (
	"sort"

	sdkmath "cosmossdk.io/math"
)

const (
	// JudgeFeeBps is the share of the pool paid to whoever judges a timed-out game.
	JudgeFeeBps    uint64 = 500 // 5%
	bpsDenominator uint64 = 10_000
	playersPerGame uint64 = 2
)

// SettlementInput is everything the payout rule looks at.
type SettlementInput struct {
	Cost        uint64
	TotalLength uint64
	Variant     Settlement
	PlayerOdd   Address
	PlayerEven  Address
	// Judge is required for SettleJudge and ignored otherwise.
	Judge *Address
}

// Payout is the distribution of a finished game's pool. Amounts always sum to Pool.
type Payout struct {
	Variant    Settlement         `json:"variant"`
	Winner     Role               `json:"winner"`
	WinnerAddr Address            `json:"winnerAddr"`
	Pool       uint64             `json:"pool"`
	JudgeFee   uint64             `json:"judgeFee,omitempty"`
	Amounts    map[Address]uint64 `json:"amounts"`
}

// WinnerFor applies the parity rule: an odd combined length means odd wins,
// anything else (including zero) means even wins.
func WinnerFor(totalLength uint64) Role {
	if totalLength == 0 || totalLength%2 == 0 {
		return RoleEven
	}
	return RoleOdd
}

// ComputePayout decides the winner and splits the pool. It performs no transfers.
func ComputePayout(in SettlementInput) (Payout, error) {
	if in.PlayerOdd == "" || in.PlayerEven == "" {
		return Payout{}, ErrInvalidRequest.Wrap("payout needs both players")
	}
	pool, err := poolFor(in.Cost)
	if err != nil {
		return Payout{}, err
	}

	totalLength := in.TotalLength
	if in.Variant == SettleJudge {
		// Odd never disclosed a word; the game is forfeited to even.
		totalLength = 0
	}
	winner := WinnerFor(totalLength)
	winnerAddr := in.PlayerEven
	if winner == RoleOdd {
		winnerAddr = in.PlayerOdd
	}

	p := Payout{
		Variant:    in.Variant,
		Winner:     winner,
		WinnerAddr: winnerAddr,
		Pool:       pool.Uint64(),
		Amounts:    map[Address]uint64{},
	}

	switch in.Variant {
	case SettleReveal:
		p.Amounts[winnerAddr] = p.Pool
	case SettleJudge:
		if in.Judge == nil || *in.Judge == "" {
			return Payout{}, ErrInvalidRequest.Wrap("judge settlement needs a judge")
		}
		fee := pool.MulUint64(JudgeFeeBps).QuoUint64(bpsDenominator)
		rest := pool.Sub(fee)
		p.JudgeFee = fee.Uint64()
		// Judge and winner may be the same account.
		p.Amounts[*in.Judge] += p.JudgeFee
		p.Amounts[winnerAddr] += rest.Uint64()
	default:
		return Payout{}, ErrInvalidRequest.Wrapf("unknown settlement %q", in.Variant)
	}
	return p, nil
}

// Recipients returns the payout recipients in a stable order.
func (p Payout) Recipients() []Address {
	out := make([]Address, 0, len(p.Amounts))
	for a := range p.Amounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func poolFor(cost uint64) (sdkmath.Uint, error) {
	pool := sdkmath.NewUint(cost).MulUint64(playersPerGame)
	if !pool.BigInt().IsUint64() {
		return sdkmath.Uint{}, ErrInvalidRequest.Wrapf("pool for cost %d overflows uint64", cost)
	}
	return pool, nil
}
