package runtime

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/alickrxu/escrow-program/pkg/solana"
	"github.com/alickrxu/escrow-program/pkg/solana/system"
)

// Program executes one instruction against the accounts supplied by the
// caller. The program id is passed explicitly so a single implementation
// can be registered under multiple addresses.
type Program interface {
	Process(env *Env, program ed25519.PublicKey, accounts []*Account, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(env *Env, program ed25519.PublicKey, accounts []*Account, data []byte) error

func (f ProgramFunc) Process(env *Env, program ed25519.PublicKey, accounts []*Account, data []byte) error {
	return f(env, program, accounts, data)
}

// Runtime is an in-memory ledger that schedules instructions one at a
// time and executes each atomically: on any failure, every account is
// restored to its state before the call.
type Runtime struct {
	log      *logrus.Entry
	programs map[string]Program
	accounts map[string]*Account
}

func NewRuntime() *Runtime {
	r := &Runtime{
		log:      logrus.StandardLogger().WithField("type", "solana/runtime"),
		programs: make(map[string]Program),
		accounts: make(map[string]*Account),
	}

	// The rent sysvar is always available to programs.
	r.SetAccount(system.RentSysVar, system.SystemAccount, 1, system.DefaultRent().Marshal())

	return r
}

func (r *Runtime) RegisterProgram(id ed25519.PublicKey, p Program) {
	r.programs[base58.Encode(id)] = p
}

// SetAccount creates or replaces a ledger account.
func (r *Runtime) SetAccount(key, owner ed25519.PublicKey, lamports uint64, data []byte) *Account {
	account := &Account{
		Key:      key,
		Lamports: lamports,
		Data:     data,
		Owner:    owner,
	}
	r.accounts[base58.Encode(key)] = account
	return account
}

// Account returns the ledger account for the given key, creating an
// empty system-owned account if none exists (mirroring how the host
// loads referenced accounts).
func (r *Runtime) Account(key ed25519.PublicKey) *Account {
	if account, ok := r.accounts[base58.Encode(key)]; ok {
		return account
	}
	return r.SetAccount(key, system.SystemAccount, 0, nil)
}

// Execute runs a single instruction atomically. The signers are the
// keys whose transaction signatures were verified; an account is only
// presented to the program as a signer if the instruction marks it as
// one and its key is in this set.
func (r *Runtime) Execute(ix solana.Instruction, signers ...ed25519.PublicKey) error {
	program, ok := r.programs[base58.Encode(ix.Program)]
	if !ok {
		return ErrUnsupportedProgramID
	}

	accounts := make([]*Account, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		account := r.Account(meta.PublicKey)
		account.IsSigner = meta.IsSigner && containsKey(signers, meta.PublicKey)
		account.IsWritable = meta.IsWritable
		accounts[i] = account
	}

	snapshots := make(map[string]accountSnapshot, len(r.accounts))
	for k, account := range r.accounts {
		snapshots[k] = account.snapshot()
	}

	env := &Env{rt: r, program: ix.Program}
	if err := program.Process(env, ix.Program, accounts, ix.Data); err != nil {
		for k, account := range r.accounts {
			if s, ok := snapshots[k]; ok {
				account.restore(s)
			}
		}

		r.log.WithError(err).WithField("program", base58.Encode(ix.Program)).Debug("instruction failed")
		return err
	}

	return nil
}

// Env is handed to a program for the duration of one instruction and
// carries the ability to issue sub-calls to other programs.
type Env struct {
	rt      *Runtime
	program ed25519.PublicKey
	depth   int
}

const maxInvokeDepth = 4

// Invoke issues a sub-call carrying only the authority the calling
// instruction already holds.
func (e *Env) Invoke(ix solana.Instruction) error {
	return e.invoke(ix, nil)
}

// InvokeSigned issues a sub-call with the calling program signing for
// every account whose key is the program address derived from one of
// the given seed groups. The derivation always happens here, from the
// calling program's own id; the callee never trusts a caller-supplied
// identity.
func (e *Env) InvokeSigned(ix solana.Instruction, seedGroups ...[][]byte) error {
	derived := make([]ed25519.PublicKey, 0, len(seedGroups))
	for _, seeds := range seedGroups {
		pub, err := solana.CreateProgramAddress(e.program, seeds...)
		if err != nil {
			return err
		}
		derived = append(derived, pub)
	}
	return e.invoke(ix, derived)
}

type framePrivileges struct {
	isSigner   bool
	isWritable bool
}

func (e *Env) invoke(ix solana.Instruction, derivedSigners []ed25519.PublicKey) error {
	if e.depth+1 > maxInvokeDepth {
		return ErrCallDepth
	}

	program, ok := e.rt.programs[base58.Encode(ix.Program)]
	if !ok {
		return ErrUnsupportedProgramID
	}

	// The sub-call sees the same ledger entries, with per-call signer and
	// writable attributes. Privileges never escalate: an account signs the
	// inner instruction only if it signed the outer one or if the calling
	// program derived its address from seeds.
	accounts := make([]*Account, len(ix.Accounts))
	outer := make([]framePrivileges, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		account, ok := e.rt.accounts[base58.Encode(meta.PublicKey)]
		if !ok {
			return ErrMissingAccount
		}

		outer[i] = framePrivileges{isSigner: account.IsSigner, isWritable: account.IsWritable}

		canSign := account.IsSigner || containsKey(derivedSigners, meta.PublicKey)
		account.IsSigner = meta.IsSigner && canSign
		account.IsWritable = meta.IsWritable && account.IsWritable
		accounts[i] = account
	}

	restore := func() {
		for i, account := range accounts {
			account.IsSigner = outer[i].isSigner
			account.IsWritable = outer[i].isWritable
		}
	}
	defer restore()

	env := &Env{rt: e.rt, program: ix.Program, depth: e.depth + 1}
	return program.Process(env, ix.Program, accounts, ix.Data)
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}
