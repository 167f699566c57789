package game

import errorsmod "cosmossdk.io/errors"

// Codespace is the ABCI codespace for game errors.
const Codespace = "oddeven"

// Game sentinel errors. Codes are part of the tx result contract; do not renumber.
var (
	ErrInvalidRequest     = errorsmod.Register(Codespace, 2, "invalid request")
	ErrGameAlreadyActive  = errorsmod.Register(Codespace, 3, "game already active")
	ErrInsufficientStake  = errorsmod.Register(Codespace, 4, "stake does not match game cost")
	ErrWrongPhase         = errorsmod.Register(Codespace, 5, "operation not allowed in current phase")
	ErrEmptyWord          = errorsmod.Register(Codespace, 6, "magic word is empty")
	ErrSelfJoin           = errorsmod.Register(Codespace, 7, "player odd cannot join own game")
	ErrNotAuthorized      = errorsmod.Register(Codespace, 8, "caller is not player odd")
	ErrCommitmentMismatch = errorsmod.Register(Codespace, 9, "magic word does not match commitment")
	ErrTooEarly           = errorsmod.Register(Codespace, 10, "reveal deadline has not passed")
)
