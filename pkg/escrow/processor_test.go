package escrow

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alickrxu/escrow-program/pkg/solana"
	"github.com/alickrxu/escrow-program/pkg/solana/runtime"
	"github.com/alickrxu/escrow-program/pkg/solana/system"
	"github.com/alickrxu/escrow-program/pkg/solana/token"
	"github.com/alickrxu/escrow-program/pkg/testutil"
)

const (
	testDeposit        = uint64(500)
	testExpectedAmount = uint64(250)
	testTakerFunds     = uint64(1000)
	testMainLamports   = uint64(10_000_000)
)

// tradeEnv is a ledger with two parties set up for an X-for-Y trade:
// the initializer deposits testDeposit of mint X into the custody
// account and demands testExpectedAmount of mint Y.
type tradeEnv struct {
	t  *testing.T
	rt *runtime.Runtime

	program ed25519.PublicKey
	mintX   ed25519.PublicKey
	mintY   ed25519.PublicKey

	initializer ed25519.PublicKey
	taker       ed25519.PublicKey

	custody           ed25519.PublicKey
	initializerPayout ed25519.PublicKey
	initializerAsset  ed25519.PublicKey
	takerSource       ed25519.PublicKey
	takerDest         ed25519.PublicKey
	escrowRecord      ed25519.PublicKey

	tokenAccountRent uint64
	recordRent       uint64
}

func newTradeEnv(t *testing.T) *tradeEnv {
	keys := testutil.GenerateSolanaKeys(t, 11)

	env := &tradeEnv{
		t:  t,
		rt: runtime.NewRuntime(),

		program: keys[0],
		mintX:   keys[1],
		mintY:   keys[2],

		initializer: keys[3],
		taker:       keys[4],

		custody:           keys[5],
		initializerPayout: keys[6],
		initializerAsset:  keys[7],
		takerSource:       keys[8],
		takerDest:         keys[9],
		escrowRecord:      keys[10],

		tokenAccountRent: system.DefaultRent().MinimumBalance(token.AccountSize),
		recordRent:       system.DefaultRent().MinimumBalance(EscrowAccountSize),
	}

	env.rt.RegisterProgram(token.ProgramKey, token.NewEngine())
	env.rt.RegisterProgram(env.program, NewProcessor())

	env.rt.SetAccount(env.initializer, system.SystemAccount, testMainLamports, nil)
	env.rt.SetAccount(env.taker, system.SystemAccount, testMainLamports, nil)

	env.setTokenAccount(env.custody, env.mintX, env.initializer, testDeposit)
	env.setTokenAccount(env.initializerPayout, env.mintY, env.initializer, 0)
	env.setTokenAccount(env.initializerAsset, env.mintX, env.initializer, 0)
	env.setTokenAccount(env.takerSource, env.mintY, env.taker, testTakerFunds)
	env.setTokenAccount(env.takerDest, env.mintX, env.taker, 0)

	env.rt.SetAccount(env.escrowRecord, env.program, env.recordRent, make([]byte, EscrowAccountSize))

	return env
}

func (e *tradeEnv) setTokenAccount(key, mint, owner ed25519.PublicKey, amount uint64) {
	state := token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.AccountStateInitialized,
	}
	e.rt.SetAccount(key, token.ProgramKey, e.tokenAccountRent, state.Marshal())
}

func (e *tradeEnv) tokenBalance(key ed25519.PublicKey) uint64 {
	var state token.Account
	require.True(e.t, state.Unmarshal(e.rt.Account(key).Data))
	return state.Amount
}

func (e *tradeEnv) tokenOwner(key ed25519.PublicKey) ed25519.PublicKey {
	var state token.Account
	require.True(e.t, state.Unmarshal(e.rt.Account(key).Data))
	return state.Owner
}

func (e *tradeEnv) initEscrow() error {
	ix := NewInitEscrowInstruction(e.program, e.initializer, e.custody, e.initializerPayout, e.escrowRecord, testExpectedAmount)
	return e.rt.Execute(ix, e.initializer)
}

func (e *tradeEnv) exchange(amount uint64) error {
	return e.exchangeWith(amount, e.custody, e.initializer, e.initializerPayout)
}

func (e *tradeEnv) exchangeWith(amount uint64, custody, initializerMain, initializerPayout ed25519.PublicKey) error {
	ix, err := NewExchangeInstruction(e.program, e.taker, e.takerSource, e.takerDest, custody, initializerMain, initializerPayout, e.escrowRecord, amount)
	require.NoError(e.t, err)
	return e.rt.Execute(ix, e.taker)
}

func (e *tradeEnv) cancel() error {
	ix, err := NewCancelInstruction(e.program, e.initializer, e.initializerAsset, e.escrowRecord, e.custody, e.initializer)
	require.NoError(e.t, err)
	return e.rt.Execute(ix, e.initializer)
}

func (e *tradeEnv) assertTradeUntouched() {
	assert.Equal(e.t, testDeposit, e.tokenBalance(e.custody))
	assert.Equal(e.t, testTakerFunds, e.tokenBalance(e.takerSource))
	assert.Equal(e.t, uint64(0), e.tokenBalance(e.takerDest))
	assert.Equal(e.t, uint64(0), e.tokenBalance(e.initializerPayout))
	assert.Equal(e.t, testMainLamports, e.rt.Account(e.initializer).Lamports)
}

func TestInitEscrow(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	var record Escrow
	require.NoError(t, record.Unmarshal(env.rt.Account(env.escrowRecord).Data))
	assert.True(t, record.IsInitialized)
	assert.Equal(t, env.initializer, record.Initializer)
	assert.Equal(t, env.custody, record.CustodyAccount)
	assert.Equal(t, env.initializerPayout, record.InitializerPayoutAccount)
	assert.Equal(t, testExpectedAmount, record.ExpectedAmount)

	// Custody is now held by the derived authority, not the initializer.
	authority, err := DeriveCustodyAuthority(env.program)
	require.NoError(t, err)
	assert.Equal(t, authority.Address, env.tokenOwner(env.custody))
	assert.Equal(t, testDeposit, env.tokenBalance(env.custody))
}

func TestInitEscrow_MissingSignature(t *testing.T) {
	env := newTradeEnv(t)

	ix := NewInitEscrowInstruction(env.program, env.initializer, env.custody, env.initializerPayout, env.escrowRecord, testExpectedAmount)
	err := env.rt.Execute(ix)
	assert.Equal(t, runtime.ErrMissingRequiredSignature, err)

	var record Escrow
	assert.Equal(t, runtime.ErrUninitializedAccount, record.Unmarshal(env.rt.Account(env.escrowRecord).Data))
	assert.Equal(t, env.initializer, env.tokenOwner(env.custody))
}

func TestInitEscrow_PayoutNotOwnedByTokenProgram(t *testing.T) {
	env := newTradeEnv(t)

	env.rt.SetAccount(env.initializerPayout, system.SystemAccount, env.tokenAccountRent, make([]byte, token.AccountSize))
	assert.Equal(t, runtime.ErrIncorrectProgramID, env.initEscrow())
}

func TestInitEscrow_PayoutIsNotTokenAccount(t *testing.T) {
	env := newTradeEnv(t)

	// A mint is 82 bytes and never decodes as a token holding account.
	env.rt.SetAccount(env.initializerPayout, token.ProgramKey, env.tokenAccountRent, make([]byte, 82))
	assert.Equal(t, runtime.ErrInvalidAccountData, env.initEscrow())
}

func TestInitEscrow_ForgedRentSysvar(t *testing.T) {
	env := newTradeEnv(t)

	// A zero-rate rent account under an arbitrary key would exempt any
	// balance, so the slot must hold the rent sysvar itself.
	forged := testutil.GenerateSolanaKeys(t, 1)[0]
	env.rt.SetAccount(forged, system.SystemAccount, 1, system.Rent{}.Marshal())
	env.rt.SetAccount(env.escrowRecord, env.program, 1, make([]byte, EscrowAccountSize))

	ix := NewInitEscrowInstruction(env.program, env.initializer, env.custody, env.initializerPayout, env.escrowRecord, testExpectedAmount)
	ix.Accounts[4] = solana.NewReadonlyAccountMeta(forged, false)

	assert.Equal(t, runtime.ErrInvalidAccountData, env.rt.Execute(ix, env.initializer))

	var record Escrow
	assert.Equal(t, runtime.ErrUninitializedAccount, record.Unmarshal(env.rt.Account(env.escrowRecord).Data))
}

func TestInitEscrow_NotRentExempt(t *testing.T) {
	env := newTradeEnv(t)

	env.rt.SetAccount(env.escrowRecord, env.program, env.recordRent-1, make([]byte, EscrowAccountSize))
	assert.Equal(t, ErrNotRentExempt, env.initEscrow())
}

func TestInitEscrow_AlreadyInitialized(t *testing.T) {
	env := newTradeEnv(t)

	require.NoError(t, env.initEscrow())
	assert.Equal(t, runtime.ErrAccountAlreadyInitialized, env.initEscrow())
}

func TestExchange(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())
	require.NoError(t, env.exchange(testDeposit))

	// The taker paid the expected amount and received the full deposit.
	assert.Equal(t, testTakerFunds-testExpectedAmount, env.tokenBalance(env.takerSource))
	assert.Equal(t, testExpectedAmount, env.tokenBalance(env.initializerPayout))
	assert.Equal(t, testDeposit, env.tokenBalance(env.takerDest))

	// Custody and record are gone, their rents refunded to the initializer.
	assert.Empty(t, env.rt.Account(env.custody).Data)
	assert.Equal(t, uint64(0), env.rt.Account(env.custody).Lamports)
	assert.Empty(t, env.rt.Account(env.escrowRecord).Data)
	assert.Equal(t, uint64(0), env.rt.Account(env.escrowRecord).Lamports)
	assert.Equal(t, testMainLamports+env.tokenAccountRent+env.recordRent, env.rt.Account(env.initializer).Lamports)
}

func TestExchange_MissingSignature(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	ix, err := NewExchangeInstruction(env.program, env.taker, env.takerSource, env.takerDest, env.custody, env.initializer, env.initializerPayout, env.escrowRecord, testDeposit)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrMissingRequiredSignature, env.rt.Execute(ix))
	env.assertTradeUntouched()
}

func TestExchange_AmountMismatch(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	assert.Equal(t, ErrExpectedAmountMismatch, env.exchange(testDeposit-1))
	assert.Equal(t, ErrExpectedAmountMismatch, env.exchange(testDeposit+1))
	env.assertTradeUntouched()
}

func TestExchange_SubstitutedCustody(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	// A valid token account with a matching balance, but not the one the
	// record points at.
	other := testutil.GenerateSolanaKeys(t, 1)[0]
	env.setTokenAccount(other, env.mintX, env.initializer, testDeposit)

	assert.Equal(t, runtime.ErrInvalidAccountData, env.exchangeWith(testDeposit, other, env.initializer, env.initializerPayout))
	env.assertTradeUntouched()
}

func TestExchange_SubstitutedInitializerMain(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	assert.Equal(t, runtime.ErrInvalidAccountData, env.exchangeWith(testDeposit, env.custody, env.taker, env.initializerPayout))
	env.assertTradeUntouched()
}

func TestExchange_SubstitutedPayout(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	other := testutil.GenerateSolanaKeys(t, 1)[0]
	env.setTokenAccount(other, env.mintY, env.initializer, 0)

	assert.Equal(t, runtime.ErrInvalidAccountData, env.exchangeWith(testDeposit, env.custody, env.initializer, other))
	env.assertTradeUntouched()
}

func TestExchange_RollsBackOnSubCallFailure(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	// The taker cannot cover the expected amount, so the first sub-call
	// fails; nothing from the sequence may stick.
	env.setTokenAccount(env.takerSource, env.mintY, env.taker, testExpectedAmount-1)

	assert.Equal(t, token.ErrorInsufficientFunds, env.exchange(testDeposit))

	assert.Equal(t, testExpectedAmount-1, env.tokenBalance(env.takerSource))
	assert.Equal(t, testDeposit, env.tokenBalance(env.custody))
	assert.Equal(t, uint64(0), env.tokenBalance(env.initializerPayout))
	assert.Equal(t, testMainLamports, env.rt.Account(env.initializer).Lamports)

	var record Escrow
	require.NoError(t, record.Unmarshal(env.rt.Account(env.escrowRecord).Data))
	assert.True(t, record.IsInitialized)
}

func TestExchange_Repeat(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())
	require.NoError(t, env.exchange(testDeposit))

	mainLamports := env.rt.Account(env.initializer).Lamports

	// The custody account no longer exists; the repeat fails before any
	// balance moves.
	assert.Equal(t, runtime.ErrInvalidAccountData, env.exchange(testDeposit))
	assert.Equal(t, mainLamports, env.rt.Account(env.initializer).Lamports)
	assert.Equal(t, testTakerFunds-testExpectedAmount, env.tokenBalance(env.takerSource))
}

func TestCancel(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())
	require.NoError(t, env.cancel())

	// The deposit comes home and both rents are refunded.
	assert.Equal(t, testDeposit, env.tokenBalance(env.initializerAsset))
	assert.Empty(t, env.rt.Account(env.custody).Data)
	assert.Equal(t, uint64(0), env.rt.Account(env.custody).Lamports)
	assert.Empty(t, env.rt.Account(env.escrowRecord).Data)
	assert.Equal(t, testMainLamports+env.tokenAccountRent+env.recordRent, env.rt.Account(env.initializer).Lamports)

	// The taker side never moved.
	assert.Equal(t, testTakerFunds, env.tokenBalance(env.takerSource))
	assert.Equal(t, uint64(0), env.tokenBalance(env.takerDest))
}

func TestCancel_Repeat(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())
	require.NoError(t, env.cancel())

	mainLamports := env.rt.Account(env.initializer).Lamports

	assert.Equal(t, runtime.ErrUninitializedAccount, env.cancel())
	assert.Equal(t, mainLamports, env.rt.Account(env.initializer).Lamports)
	assert.Equal(t, testDeposit, env.tokenBalance(env.initializerAsset))
}

func TestCancel_AfterExchange(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())
	require.NoError(t, env.exchange(testDeposit))

	assert.Equal(t, runtime.ErrUninitializedAccount, env.cancel())
}

func TestCancel_MissingSignature(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	ix, err := NewCancelInstruction(env.program, env.initializer, env.initializerAsset, env.escrowRecord, env.custody, env.initializer)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrMissingRequiredSignature, env.rt.Execute(ix))
	env.assertTradeUntouched()
}

func TestCancel_WrongParty(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	// The taker signs a cancel naming themselves as the initializer; the
	// record's stored identity does not match.
	takerAsset := testutil.GenerateSolanaKeys(t, 1)[0]
	env.setTokenAccount(takerAsset, env.mintX, env.taker, 0)

	ix, err := NewCancelInstruction(env.program, env.taker, takerAsset, env.escrowRecord, env.custody, env.taker)
	require.NoError(t, err)
	assert.Equal(t, runtime.ErrInvalidAccountData, env.rt.Execute(ix, env.taker))
	env.assertTradeUntouched()
}

func TestCancel_AssetAccountNotOwnedByTokenProgram(t *testing.T) {
	env := newTradeEnv(t)
	require.NoError(t, env.initEscrow())

	env.rt.SetAccount(env.initializerAsset, system.SystemAccount, env.tokenAccountRent, nil)
	assert.Equal(t, runtime.ErrIncorrectProgramID, env.cancel())
}
