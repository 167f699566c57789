package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"oddeven/apps/chain/internal/game"
)

// EscrowAccount holds the stakes of the game in flight.
const EscrowAccount = "oddeven/escrow"

type State struct {
	Height int64 `json:"height"`

	Params      game.Params       `json:"params"`
	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection

	Games *game.Registry `json:"games"`
}

func NewState(params game.Params) *State {
	return &State{
		Height:      0,
		Params:      params,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Games:       game.NewRegistry(),
	}
}

// Normalize fills in maps and defaults left empty by decoding.
func (s *State) Normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Games == nil {
		s.Games = game.NewRegistry()
	}
	if s.Games.NextID == 0 {
		s.Games.NextID = 1
	}
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.Normalize()
	return &out, nil
}

// Engine returns a game engine whose stakes move through this state's bank.
func (s *State) Engine() *game.Engine {
	s.Normalize()
	return game.NewEngine(s.Games, s, s.Params)
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	normalized := struct {
		Height      int64          `json:"height"`
		Params      game.Params    `json:"params"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Games       *game.Registry `json:"games"`
	}{
		Height:      s.Height,
		Params:      s.Params,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Games:       s.Games,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

// Transfer moves funds between accounts, leaving both untouched on error.
func (s *State) Transfer(from, to string, amount uint64) error {
	if from == to {
		if s.Balance(from) < amount {
			return fmt.Errorf("insufficient funds: have=%d need=%d", s.Balance(from), amount)
		}
		return nil
	}
	if s.Balance(from) < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", s.Balance(from), amount)
	}
	if bal := s.Balance(to); bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[from] -= amount
	s.Accounts[to] += amount
	return nil
}

// ---- game.Ledger ----

var _ game.Ledger = (*State)(nil)

func (s *State) Escrow(from game.Address, amount uint64) error {
	if err := s.Transfer(string(from), EscrowAccount, amount); err != nil {
		return fmt.Errorf("escrow stake: %w", err)
	}
	return nil
}

// Settle pays a finished game's pool out of escrow. All credits are checked
// before any balance changes.
func (s *State) Settle(p game.Payout) error {
	var total uint64
	for _, a := range p.Recipients() {
		amt := p.Amounts[a]
		if total > ^uint64(0)-amt {
			return fmt.Errorf("settle: payout total overflows uint64")
		}
		total += amt
		if string(a) == EscrowAccount {
			return fmt.Errorf("settle: escrow cannot be a recipient")
		}
		if bal := s.Balance(string(a)); bal > ^uint64(0)-amt {
			return fmt.Errorf("settle: balance overflow for %s: have=%d add=%d", a, bal, amt)
		}
	}
	if total != p.Pool {
		return fmt.Errorf("settle: payout total %d != pool %d", total, p.Pool)
	}
	if have := s.Balance(EscrowAccount); have < total {
		return fmt.Errorf("settle: escrow underfunded: have=%d need=%d", have, total)
	}
	s.Accounts[EscrowAccount] -= total
	for _, a := range p.Recipients() {
		s.Accounts[string(a)] += p.Amounts[a]
	}
	return nil
}
