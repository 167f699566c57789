package codec

import (
	"encoding/json"
	"fmt"

	"oddeven/apps/chain/internal/commitment"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 localnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth (optional):
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: account name the tx acts for.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	//
	// Note: This is still a scaffold; it is NOT the final protocol encoding.
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Game ----

// GameStartTx opens a game with Odd's commitment. Stake must equal the current
// game cost.
type GameStartTx struct {
	Player  string          `json:"player"`
	HashOdd commitment.Hash `json:"hashOdd"`
	Stake   uint64          `json:"stake"`
}

type GameJoinTx struct {
	Player    string `json:"player"`
	MagicWord string `json:"magicWord"`
	Stake     uint64 `json:"stake"`
}

type GameRevealTx struct {
	Player    string `json:"player"`
	MagicWord string `json:"magicWord"`
}

// GameJudgeTx settles a game whose reveal deadline has passed. Any account may
// send it.
type GameJudgeTx struct {
	Caller string `json:"caller"`
}
