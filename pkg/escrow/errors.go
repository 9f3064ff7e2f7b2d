package escrow

import (
	"fmt"

	"github.com/ybbus/jsonrpc"

	"github.com/alickrxu/escrow-program/pkg/solana"
)

// Error is the escrow program's closed failure set. The integer encoding
// is stable and is what surfaces as the custom error code when a call
// fails on-chain.
type Error uint32

const (
	ErrInvalidInstruction Error = iota
	ErrNotRentExempt
	ErrExpectedAmountMismatch
	ErrAmountOverflow
)

func (e Error) Error() string {
	switch e {
	case ErrInvalidInstruction:
		return "invalid instruction"
	case ErrNotRentExempt:
		return "not rent exempt"
	case ErrExpectedAmountMismatch:
		return "expected amount mismatch"
	case ErrAmountOverflow:
		return "amount overflow"
	default:
		return fmt.Sprintf("unknown escrow error: %d", uint32(e))
	}
}

// CustomError returns the host runtime's representation of the failure.
func (e Error) CustomError() solana.CustomError {
	return solana.CustomError(e)
}

// ErrorFromTransactionError recovers the program's failure from a failed
// transaction. Reports false when the failure did not originate from
// this program's error set.
func ErrorFromTransactionError(txErr *solana.TransactionError) (Error, bool) {
	if txErr == nil {
		return 0, false
	}

	instructionErr := txErr.InstructionError()
	if instructionErr == nil {
		return 0, false
	}

	code := instructionErr.CustomError()
	if code == nil || *code < 0 || int(*code) > int(ErrAmountOverflow) {
		return 0, false
	}
	return Error(*code), true
}

// ErrorFromRPCError recovers the program's failure from a submission
// error returned over RPC.
func ErrorFromRPCError(rpcErr *jsonrpc.RPCError) (Error, bool) {
	txErr, err := solana.ParseRPCError(rpcErr)
	if err != nil || txErr == nil {
		return 0, false
	}
	return ErrorFromTransactionError(txErr)
}
