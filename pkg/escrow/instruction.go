package escrow

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/alickrxu/escrow-program/pkg/solana"
	"github.com/alickrxu/escrow-program/pkg/solana/system"
	"github.com/alickrxu/escrow-program/pkg/solana/token"
)

type InstructionType byte

const (
	// InstructionTypeInitEscrow starts a trade: the initializer's pre-funded
	// custody account is handed to the program-derived authority and the
	// escrow record is populated.
	//
	// Accounts expected:
	//
	//   0. `[signer]` The initializer
	//   1. `[writable]` The custody token account, created prior to this
	//      instruction and owned by the initializer
	//   2. `[]` The initializer's token account that receives the
	//      counter-asset if the trade goes through
	//   3. `[writable]` The escrow record account
	//   4. `[]` The rent sysvar
	//   5. `[]` The token program
	InstructionTypeInitEscrow InstructionType = iota

	// InstructionTypeExchange settles a trade atomically.
	//
	// Accounts expected:
	//
	//   0. `[signer]` The taker
	//   1. `[writable]` The taker's token account for the token they send
	//   2. `[writable]` The taker's token account for the token they receive
	//   3. `[writable]` The custody token account
	//   4. `[writable]` The initializer's main account, refunded the rents
	//   5. `[writable]` The initializer's token account that receives the
	//      counter-asset
	//   6. `[writable]` The escrow record account
	//   7. `[]` The token program
	//   8. `[]` The program-derived custody authority
	InstructionTypeExchange

	// InstructionTypeCancel lets the initializer back out before a taker
	// acts, reclaiming the deposit and all rents.
	//
	// Accounts expected:
	//
	//   0. `[signer]` The initializer
	//   1. `[writable]` The initializer's token account that gets the
	//      deposit back
	//   2. `[writable]` The escrow record account
	//   3. `[]` The token program
	//   4. `[writable]` The custody token account
	//   5. `[writable]` The initializer's main account, refunded the rents
	//   6. `[]` The program-derived custody authority
	InstructionTypeCancel
)

const amountSize = 8

// Instruction is one decoded escrow operation.
type Instruction struct {
	Type   InstructionType
	Amount uint64
}

// UnpackInstruction decodes a tagged instruction payload. InitEscrow and
// Exchange carry a little-endian uint64 amount after the tag byte; Cancel
// carries nothing, and any trailing bytes after its tag are ignored.
func UnpackInstruction(data []byte) (*Instruction, error) {
	if len(data) == 0 {
		return nil, ErrInvalidInstruction
	}

	tag, rest := InstructionType(data[0]), data[1:]
	switch tag {
	case InstructionTypeInitEscrow, InstructionTypeExchange:
		if len(rest) < amountSize {
			return nil, ErrInvalidInstruction
		}
		return &Instruction{
			Type:   tag,
			Amount: binary.LittleEndian.Uint64(rest),
		}, nil
	case InstructionTypeCancel:
		return &Instruction{Type: tag}, nil
	default:
		return nil, ErrInvalidInstruction
	}
}

func packAmount(tag InstructionType, amount uint64) []byte {
	data := make([]byte, 1+amountSize)
	data[0] = byte(tag)
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// NewInitEscrowInstruction builds the instruction that opens a trade.
func NewInitEscrowInstruction(program, initializer, custody, initializerPayout, escrowRecord ed25519.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(
		program,
		packAmount(InstructionTypeInitEscrow, amount),
		solana.NewReadonlyAccountMeta(initializer, true),
		solana.NewAccountMeta(custody, false),
		solana.NewReadonlyAccountMeta(initializerPayout, false),
		solana.NewAccountMeta(escrowRecord, false),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
	)
}

// NewExchangeInstruction builds the instruction that settles a trade. The
// custody authority reference is derived here from the program id; the
// processor re-derives it regardless.
func NewExchangeInstruction(program, taker, takerSource, takerDest, custody, initializerMain, initializerPayout, escrowRecord ed25519.PublicKey, amount uint64) (solana.Instruction, error) {
	authority, err := DeriveCustodyAuthority(program)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.NewInstruction(
		program,
		packAmount(InstructionTypeExchange, amount),
		solana.NewReadonlyAccountMeta(taker, true),
		solana.NewAccountMeta(takerSource, false),
		solana.NewAccountMeta(takerDest, false),
		solana.NewAccountMeta(custody, false),
		solana.NewAccountMeta(initializerMain, false),
		solana.NewAccountMeta(initializerPayout, false),
		solana.NewAccountMeta(escrowRecord, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewReadonlyAccountMeta(authority.Address, false),
	), nil
}

// NewCancelInstruction builds the instruction that cancels a trade.
func NewCancelInstruction(program, initializer, initializerAsset, escrowRecord, custody, initializerMain ed25519.PublicKey) (solana.Instruction, error) {
	authority, err := DeriveCustodyAuthority(program)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.NewInstruction(
		program,
		[]byte{byte(InstructionTypeCancel)},
		solana.NewReadonlyAccountMeta(initializer, true),
		solana.NewAccountMeta(initializerAsset, false),
		solana.NewAccountMeta(escrowRecord, false),
		solana.NewReadonlyAccountMeta(token.ProgramKey, false),
		solana.NewAccountMeta(custody, false),
		solana.NewAccountMeta(initializerMain, false),
		solana.NewReadonlyAccountMeta(authority.Address, false),
	), nil
}
