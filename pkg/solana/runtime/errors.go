package runtime

import (
	"errors"

	"github.com/alickrxu/escrow-program/pkg/solana"
)

// Generic instruction failures, named after the host runtime's error keys
// so they round trip through solana.InstructionError unchanged.
var (
	ErrMissingRequiredSignature  = errors.New(string(solana.InstructionErrorMissingRequiredSignature))
	ErrIncorrectProgramID        = errors.New(string(solana.InstructionErrorIncorrectProgramID))
	ErrAccountAlreadyInitialized = errors.New(string(solana.InstructionErrorAccountAlreadyInitialized))
	ErrUninitializedAccount      = errors.New(string(solana.InstructionErrorUninitializedAccount))
	ErrInvalidAccountData        = errors.New(string(solana.InstructionErrorInvalidAccountData))
	ErrInvalidInstructionData    = errors.New(string(solana.InstructionErrorInvalidInstructionData))
	ErrNotEnoughAccountKeys      = errors.New(string(solana.InstructionErrorNotEnoughAccountKeys))
	ErrMissingAccount            = errors.New(string(solana.InstructionErrorMissingAccount))
	ErrUnsupportedProgramID      = errors.New(string(solana.InstructionErrorUnsupportedProgramID))
	ErrCallDepth                 = errors.New(string(solana.InstructionErrorCallDepth))
)
