package escrow

import (
	"bytes"
	"crypto/ed25519"
	"math"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/alickrxu/escrow-program/pkg/solana/runtime"
	"github.com/alickrxu/escrow-program/pkg/solana/system"
	"github.com/alickrxu/escrow-program/pkg/solana/token"
)

// Processor is the escrow program's state machine. Every operation
// validates the caller-supplied accounts against the persisted record
// before touching any state; a failure anywhere aborts the whole call
// with nothing applied (the runtime rolls back on error).
type Processor struct {
	log *logrus.Entry
}

func NewProcessor() *Processor {
	return &Processor{
		log: logrus.StandardLogger().WithField("program", "escrow"),
	}
}

var _ runtime.Program = (*Processor)(nil)

func (p *Processor) Process(env *runtime.Env, program ed25519.PublicKey, accounts []*runtime.Account, data []byte) error {
	instruction, err := UnpackInstruction(data)
	if err != nil {
		return err
	}

	switch instruction.Type {
	case InstructionTypeInitEscrow:
		p.log.Debug("instruction: init escrow")
		return p.processInitEscrow(env, program, accounts, instruction.Amount)
	case InstructionTypeExchange:
		p.log.Debug("instruction: exchange")
		return p.processExchange(env, program, accounts, instruction.Amount)
	case InstructionTypeCancel:
		p.log.Debug("instruction: cancel")
		return p.processCancel(env, program, accounts)
	default:
		return ErrInvalidInstruction
	}
}

func (p *Processor) processInitEscrow(env *runtime.Env, program ed25519.PublicKey, accounts []*runtime.Account, amount uint64) error {
	it := newAccountIter(accounts)

	initializer, err := it.next()
	if err != nil {
		return err
	}
	if !initializer.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}

	custodyAccount, err := it.next()
	if err != nil {
		return err
	}

	// The custody account's ownership is enforced implicitly: the
	// set-authority sub-call below fails unless the token program owns it.
	payoutAccount, err := it.next()
	if err != nil {
		return err
	}
	if !bytes.Equal(payoutAccount.Owner, token.ProgramKey) {
		return runtime.ErrIncorrectProgramID
	}

	var payoutState token.Account
	if !payoutState.Unmarshal(payoutAccount.Data) {
		// A mint, or anything else that is not a token holding account.
		return runtime.ErrInvalidAccountData
	}

	escrowAccount, err := it.next()
	if err != nil {
		return err
	}

	rentAccount, err := it.next()
	if err != nil {
		return err
	}
	// Rent parameters are only trusted from the sysvar itself; a forged
	// account could carry zero rates and exempt any balance.
	if !bytes.Equal(rentAccount.Key, system.RentSysVar) {
		return runtime.ErrInvalidAccountData
	}
	var rent system.Rent
	if err := rent.Unmarshal(rentAccount.Data); err != nil {
		return runtime.ErrInvalidAccountData
	}
	if !rent.IsExempt(escrowAccount.Lamports, len(escrowAccount.Data)) {
		return ErrNotRentExempt
	}

	var record Escrow
	if err := record.UnmarshalUnchecked(escrowAccount.Data); err != nil {
		return err
	}
	if record.IsInitialized {
		return runtime.ErrAccountAlreadyInitialized
	}

	record.IsInitialized = true
	record.Initializer = initializer.Key
	record.CustodyAccount = custodyAccount.Key
	record.InitializerPayoutAccount = payoutAccount.Key
	record.ExpectedAmount = amount
	escrowAccount.Data = record.Marshal()

	authority, err := DeriveCustodyAuthority(program)
	if err != nil {
		return err
	}

	tokenProgram, err := it.next()
	if err != nil {
		return err
	}
	if !bytes.Equal(tokenProgram.Key, token.ProgramKey) {
		return runtime.ErrIncorrectProgramID
	}

	p.log.WithFields(logrus.Fields{
		"initializer": base58.Encode(initializer.Key),
		"custody":     base58.Encode(custodyAccount.Key),
		"amount":      amount,
	}).Debug("reassigning custody to the derived authority")

	// Carries the initializer's own authorization; a failure here aborts
	// the whole operation, record write included.
	return env.Invoke(token.SetAuthority(
		custodyAccount.Key,
		initializer.Key,
		authority.Address,
		token.AuthorityTypeAccountHolder,
	))
}

func (p *Processor) processExchange(env *runtime.Env, program ed25519.PublicKey, accounts []*runtime.Account, takerAmount uint64) error {
	it := newAccountIter(accounts)

	taker, err := it.next()
	if err != nil {
		return err
	}
	if !taker.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}

	takerSource, err := it.next()
	if err != nil {
		return err
	}
	takerDest, err := it.next()
	if err != nil {
		return err
	}

	custodyAccount, err := it.next()
	if err != nil {
		return err
	}
	var custodyState token.Account
	if !custodyState.Unmarshal(custodyAccount.Data) {
		return runtime.ErrInvalidAccountData
	}
	if custodyState.State == token.AccountStateUninitialized {
		return runtime.ErrUninitializedAccount
	}

	// Always recomputed from the fixed seed, never read from the
	// caller-supplied authority reference.
	authority, err := DeriveCustodyAuthority(program)
	if err != nil {
		return err
	}

	// The taker declares the custody balance they observed when building
	// the call; any drift since then voids the deal.
	if takerAmount != custodyState.Amount {
		return ErrExpectedAmountMismatch
	}

	initializerMain, err := it.next()
	if err != nil {
		return err
	}
	initializerPayout, err := it.next()
	if err != nil {
		return err
	}

	escrowAccount, err := it.next()
	if err != nil {
		return err
	}
	var record Escrow
	if err := record.Unmarshal(escrowAccount.Data); err != nil {
		return err
	}

	if !bytes.Equal(record.CustodyAccount, custodyAccount.Key) {
		return runtime.ErrInvalidAccountData
	}
	if !bytes.Equal(record.Initializer, initializerMain.Key) {
		return runtime.ErrInvalidAccountData
	}
	if !bytes.Equal(record.InitializerPayoutAccount, initializerPayout.Key) {
		return runtime.ErrInvalidAccountData
	}

	tokenProgram, err := it.next()
	if err != nil {
		return err
	}
	if !bytes.Equal(tokenProgram.Key, token.ProgramKey) {
		return runtime.ErrIncorrectProgramID
	}

	// Consumed for account-ordering compatibility; the authority used to
	// sign below is the re-derived one.
	if _, err := it.next(); err != nil {
		return err
	}

	log := p.log.WithFields(logrus.Fields{
		"taker":   base58.Encode(taker.Key),
		"custody": base58.Encode(custodyAccount.Key),
		"amount":  custodyState.Amount,
	})

	log.Debug("transferring the taker's payment to the initializer")
	if err := env.Invoke(token.Transfer(
		takerSource.Key,
		initializerPayout.Key,
		taker.Key,
		record.ExpectedAmount,
	)); err != nil {
		return err
	}

	log.Debug("releasing custody to the taker")
	if err := env.InvokeSigned(token.Transfer(
		custodyAccount.Key,
		takerDest.Key,
		authority.Address,
		custodyState.Amount,
	), authority.Seeds()); err != nil {
		return err
	}

	log.Debug("closing the custody account")
	if err := env.InvokeSigned(token.CloseAccount(
		custodyAccount.Key,
		initializerMain.Key,
		authority.Address,
	), authority.Seeds()); err != nil {
		return err
	}

	return p.closeEscrowAccount(escrowAccount, initializerMain)
}

func (p *Processor) processCancel(env *runtime.Env, program ed25519.PublicKey, accounts []*runtime.Account) error {
	it := newAccountIter(accounts)

	initializer, err := it.next()
	if err != nil {
		return err
	}
	if !initializer.IsSigner {
		return runtime.ErrMissingRequiredSignature
	}

	assetAccount, err := it.next()
	if err != nil {
		return err
	}
	if !bytes.Equal(assetAccount.Owner, token.ProgramKey) {
		return runtime.ErrIncorrectProgramID
	}

	escrowAccount, err := it.next()
	if err != nil {
		return err
	}
	var record Escrow
	if err := record.Unmarshal(escrowAccount.Data); err != nil {
		return err
	}

	tokenProgram, err := it.next()
	if err != nil {
		return err
	}
	if !bytes.Equal(tokenProgram.Key, token.ProgramKey) {
		return runtime.ErrIncorrectProgramID
	}

	custodyAccount, err := it.next()
	if err != nil {
		return err
	}
	initializerMain, err := it.next()
	if err != nil {
		return err
	}
	if _, err := it.next(); err != nil {
		return err
	}

	if !bytes.Equal(record.CustodyAccount, custodyAccount.Key) {
		return runtime.ErrInvalidAccountData
	}
	if !bytes.Equal(record.Initializer, initializer.Key) {
		return runtime.ErrInvalidAccountData
	}
	if !bytes.Equal(record.Initializer, initializerMain.Key) {
		return runtime.ErrInvalidAccountData
	}

	var custodyState token.Account
	if !custodyState.Unmarshal(custodyAccount.Data) {
		return runtime.ErrInvalidAccountData
	}
	if custodyState.State == token.AccountStateUninitialized {
		return runtime.ErrUninitializedAccount
	}

	authority, err := DeriveCustodyAuthority(program)
	if err != nil {
		return err
	}

	log := p.log.WithFields(logrus.Fields{
		"initializer": base58.Encode(initializer.Key),
		"custody":     base58.Encode(custodyAccount.Key),
		"amount":      custodyState.Amount,
	})

	log.Debug("returning the deposit to the initializer")
	if err := env.InvokeSigned(token.Transfer(
		custodyAccount.Key,
		assetAccount.Key,
		authority.Address,
		custodyState.Amount,
	), authority.Seeds()); err != nil {
		return err
	}

	log.Debug("closing the custody account")
	if err := env.InvokeSigned(token.CloseAccount(
		custodyAccount.Key,
		initializerMain.Key,
		authority.Address,
	), authority.Seeds()); err != nil {
		return err
	}

	return p.closeEscrowAccount(escrowAccount, initializerMain)
}

// closeEscrowAccount refunds the record's balance to the initializer and
// erases its storage. Both terminal transitions end here, which is what
// makes a second settle or cancel observe an uninitialized slot.
func (p *Processor) closeEscrowAccount(escrowAccount, refund *runtime.Account) error {
	if refund.Lamports > math.MaxUint64-escrowAccount.Lamports {
		return ErrAmountOverflow
	}
	refund.Lamports += escrowAccount.Lamports
	escrowAccount.Lamports = 0
	escrowAccount.Data = nil
	return nil
}

type accountIter struct {
	accounts []*runtime.Account
	pos      int
}

func newAccountIter(accounts []*runtime.Account) *accountIter {
	return &accountIter{accounts: accounts}
}

func (it *accountIter) next() (*runtime.Account, error) {
	if it.pos >= len(it.accounts) {
		return nil, runtime.ErrNotEnoughAccountKeys
	}
	account := it.accounts[it.pos]
	it.pos++
	return account, nil
}
