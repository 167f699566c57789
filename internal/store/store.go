// Package store persists chain state in a cosmos-db key/value database.
//
// Layout:
//
//	0x01                 -> meta JSON (height, nextGameId, params)
//	0x02 || u64be(id)    -> game JSON
//	0x03 || addr         -> balance u64be
//	0x04 || addr         -> ed25519 pubkey
//	0x05 || signer       -> last accepted nonce u64be
//
// Game records are append-only. Once a finished game is written it is never
// rewritten.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	dbm "github.com/cosmos/cosmos-db"

	"oddeven/apps/chain/internal/game"
	"oddeven/apps/chain/internal/state"
)

var (
	keyMeta          = []byte{0x01}
	prefixGame       = []byte{0x02}
	prefixBalance    = []byte{0x03}
	prefixAccountKey = []byte{0x04}
	prefixNonce      = []byte{0x05}
)

type meta struct {
	Height     int64       `json:"height"`
	NextGameID uint64      `json:"nextGameId"`
	Params     game.Params `json:"params"`
}

// Store writes only what changed since the previous Save.
type Store struct {
	db dbm.DB

	sealed   uint64 // highest game id persisted as finished
	balances map[string]uint64
	keys     map[string]string
	nonces   map[string]uint64
}

func New(db dbm.DB) *Store {
	return &Store{
		db:       db,
		balances: map[string]uint64{},
		keys:     map[string]string{},
		nonces:   map[string]uint64{},
	}
}

// Open opens (or creates) the named database under dir.
func Open(name, backend, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, dbm.BackendType(backend), dir)
	if err != nil {
		return nil, fmt.Errorf("open %s db %q: %w", backend, name, err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the persisted state. An empty database yields a fresh state with
// the given params.
func (s *Store) Load(defaults game.Params) (*state.State, error) {
	raw, err := s.db.Get(keyMeta)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	if raw == nil {
		return state.NewState(defaults), nil
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}

	st := state.NewState(m.Params)
	st.Height = m.Height

	var games []*game.Game
	err = s.iterate(prefixGame, func(k, v []byte) error {
		var g game.Game
		if err := json.Unmarshal(v, &g); err != nil {
			return fmt.Errorf("decode game %x: %w", k, err)
		}
		if len(games) > 0 && g.ID <= games[len(games)-1].ID {
			return fmt.Errorf("game %d out of order", g.ID)
		}
		games = append(games, &g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.Games = &game.Registry{NextID: m.NextGameID, Games: games}

	err = s.iterate(prefixBalance, func(k, v []byte) error {
		bal, err := decodeU64(v)
		if err != nil {
			return fmt.Errorf("balance %q: %w", k, err)
		}
		st.Accounts[string(k)] = bal
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(prefixAccountKey, func(k, v []byte) error {
		st.AccountKeys[string(k)] = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(prefixNonce, func(k, v []byte) error {
		n, err := decodeU64(v)
		if err != nil {
			return fmt.Errorf("nonce %q: %w", k, err)
		}
		st.NonceMax[string(k)] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.Normalize()

	s.sealed = 0
	for _, g := range games {
		if g.Status != game.StatusFinished || g.ID != s.sealed+1 {
			break
		}
		s.sealed = g.ID
	}
	s.remember(st)
	return st, nil
}

// Save writes the state in one synchronous batch.
func (s *Store) Save(st *state.State) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	st.Normalize()

	batch := s.db.NewBatch()
	defer batch.Close()

	m, err := json.Marshal(meta{Height: st.Height, NextGameID: st.Games.NextID, Params: st.Params})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := batch.Set(keyMeta, m); err != nil {
		return err
	}

	sealed := s.sealed
	for _, g := range st.Games.All() {
		if g.ID <= s.sealed {
			continue
		}
		b, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("encode game %d: %w", g.ID, err)
		}
		if err := batch.Set(gameKey(g.ID), b); err != nil {
			return err
		}
		if g.Status == game.StatusFinished && g.ID == sealed+1 {
			sealed = g.ID
		}
	}

	for addr, bal := range st.Accounts {
		if prev, ok := s.balances[addr]; ok && prev == bal {
			continue
		}
		if err := batch.Set(prefixed(prefixBalance, addr), encodeU64(bal)); err != nil {
			return err
		}
	}
	for addr, pk := range st.AccountKeys {
		if s.keys[addr] == string(pk) {
			continue
		}
		if err := batch.Set(prefixed(prefixAccountKey, addr), pk); err != nil {
			return err
		}
	}
	for signer, n := range st.NonceMax {
		if prev, ok := s.nonces[signer]; ok && prev == n {
			continue
		}
		if err := batch.Set(prefixed(prefixNonce, signer), encodeU64(n)); err != nil {
			return err
		}
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	s.sealed = sealed
	s.remember(st)
	return nil
}

func (s *Store) remember(st *state.State) {
	s.balances = make(map[string]uint64, len(st.Accounts))
	for k, v := range st.Accounts {
		s.balances[k] = v
	}
	s.keys = make(map[string]string, len(st.AccountKeys))
	for k, v := range st.AccountKeys {
		s.keys[k] = string(v)
	}
	s.nonces = make(map[string]uint64, len(st.NonceMax))
	for k, v := range st.NonceMax {
		s.nonces[k] = v
	}
}

func (s *Store) iterate(prefix []byte, fn func(k, v []byte) error) error {
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return fmt.Errorf("iterate %x: %w", prefix, err)
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := fn(it.Key()[len(prefix):], it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func gameKey(id uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = prefixGame[0]
	binary.BigEndian.PutUint64(k[1:], id)
	return k
}

func prefixed(prefix []byte, s string) []byte {
	k := make([]byte, 0, len(prefix)+len(s))
	k = append(k, prefix...)
	return append(k, s...)
}

// prefixEnd returns the exclusive upper bound of all keys starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
