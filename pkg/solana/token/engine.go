package token

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"math"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/alickrxu/escrow-program/pkg/solana/runtime"
	"github.com/alickrxu/escrow-program/pkg/solana/system"
)

func debugKey(key ed25519.PublicKey) string {
	return base58.Encode(key)
}

// Engine implements the token program's semantics for the commands the
// escrow flow exercises: initialize-account, transfer, set-authority and
// close-account. Failures carry the program's custom error codes.
type Engine struct {
	log *logrus.Entry
}

func NewEngine() *Engine {
	return &Engine{
		log: logrus.StandardLogger().WithField("program", "token"),
	}
}

func (e *Engine) Process(env *runtime.Env, program ed25519.PublicKey, accounts []*runtime.Account, data []byte) error {
	if len(data) == 0 {
		return ErrorInvalidInstruction
	}

	switch Command(data[0]) {
	case CommandInitializeAccount:
		return e.initializeAccount(accounts)
	case CommandTransfer:
		return e.transfer(accounts, data)
	case CommandSetAuthority:
		return e.setAuthority(accounts, data)
	case CommandCloseAccount:
		return e.closeAccount(accounts)
	default:
		return ErrorInvalidInstruction
	}
}

func (e *Engine) initializeAccount(accounts []*runtime.Account) error {
	if len(accounts) < 4 {
		return runtime.ErrNotEnoughAccountKeys
	}
	target, mint, owner, rentSysvar := accounts[0], accounts[1], accounts[2], accounts[3]

	if len(target.Data) != AccountSize {
		return runtime.ErrInvalidAccountData
	}

	var rent system.Rent
	if err := rent.Unmarshal(rentSysvar.Data); err != nil {
		return runtime.ErrInvalidAccountData
	}
	if !rent.IsExempt(target.Lamports, len(target.Data)) {
		return ErrorNotRentExempt
	}

	var state Account
	if state.Unmarshal(target.Data) && state.State != AccountStateUninitialized {
		return ErrorAlreadyInUse
	}

	state = Account{
		Mint:  mint.Key,
		Owner: owner.Key,
		State: AccountStateInitialized,
	}
	target.Data = state.Marshal()

	e.log.WithField("account", debugKey(target.Key)).Trace("initialized token account")
	return nil
}

func (e *Engine) transfer(accounts []*runtime.Account, data []byte) error {
	if len(accounts) < 3 {
		return runtime.ErrNotEnoughAccountKeys
	}
	if len(data) != 9 {
		return runtime.ErrInvalidInstructionData
	}
	source, dest, authority := accounts[0], accounts[1], accounts[2]
	amount := binary.LittleEndian.Uint64(data[1:])

	var sourceState Account
	if !sourceState.Unmarshal(source.Data) {
		return runtime.ErrInvalidAccountData
	}
	if sourceState.State == AccountStateUninitialized {
		return ErrorUninitializedState
	}

	var destState Account
	if !destState.Unmarshal(dest.Data) {
		return runtime.ErrInvalidAccountData
	}
	if destState.State == AccountStateUninitialized {
		return ErrorUninitializedState
	}

	if !bytes.Equal(sourceState.Mint, destState.Mint) {
		return ErrorMintMismatch
	}
	if !bytes.Equal(sourceState.Owner, authority.Key) {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}
	if sourceState.Amount < amount {
		return ErrorInsufficientFunds
	}

	if bytes.Equal(source.Key, dest.Key) {
		return nil
	}

	if destState.Amount > math.MaxUint64-amount {
		return ErrorOverflow
	}

	sourceState.Amount -= amount
	destState.Amount += amount
	source.Data = sourceState.Marshal()
	dest.Data = destState.Marshal()

	e.log.WithFields(logrus.Fields{
		"source": debugKey(source.Key),
		"dest":   debugKey(dest.Key),
		"amount": amount,
	}).Trace("transferred tokens")
	return nil
}

func (e *Engine) setAuthority(accounts []*runtime.Account, data []byte) error {
	if len(accounts) < 2 {
		return runtime.ErrNotEnoughAccountKeys
	}
	if len(data) < 3 {
		return runtime.ErrInvalidInstructionData
	}
	target, current := accounts[0], accounts[1]

	if AuthorityType(data[1]) != AuthorityTypeAccountHolder {
		return ErrorAuthorityTypeNotSupported
	}

	// The holder authority of a token account cannot be removed, only
	// reassigned.
	if data[2] != 1 || len(data) != 3+ed25519.PublicKeySize {
		return ErrorInvalidInstruction
	}
	newAuthority := ed25519.PublicKey(data[3 : 3+ed25519.PublicKeySize])

	var state Account
	if !state.Unmarshal(target.Data) {
		return runtime.ErrInvalidAccountData
	}
	if state.State == AccountStateUninitialized {
		return ErrorUninitializedState
	}
	if !bytes.Equal(state.Owner, current.Key) {
		return ErrorOwnerMismatch
	}
	if !current.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}

	state.Owner = newAuthority
	target.Data = state.Marshal()

	e.log.WithFields(logrus.Fields{
		"account":   debugKey(target.Key),
		"authority": debugKey(newAuthority),
	}).Trace("reassigned account holder")
	return nil
}

func (e *Engine) closeAccount(accounts []*runtime.Account) error {
	if len(accounts) < 3 {
		return runtime.ErrNotEnoughAccountKeys
	}
	target, dest, authority := accounts[0], accounts[1], accounts[2]

	var state Account
	if !state.Unmarshal(target.Data) {
		return runtime.ErrInvalidAccountData
	}
	if state.State == AccountStateUninitialized {
		return ErrorUninitializedState
	}
	if state.IsNative == nil && state.Amount != 0 {
		return ErrorNonNativeHasBalance
	}

	closeAuthority := state.Owner
	if len(state.CloseAuthority) > 0 {
		closeAuthority = state.CloseAuthority
	}
	if !bytes.Equal(closeAuthority, authority.Key) {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}

	if dest.Lamports > math.MaxUint64-target.Lamports {
		return ErrorOverflow
	}
	dest.Lamports += target.Lamports
	target.Lamports = 0
	target.Data = nil

	e.log.WithField("account", debugKey(target.Key)).Trace("closed token account")
	return nil
}
