package runtime

import (
	"crypto/ed25519"
)

// Account is the view of a ledger account handed to a program for the
// duration of one instruction. Signer and writable status are per-call
// attributes derived from the instruction, not properties of the account.
type Account struct {
	Key      ed25519.PublicKey
	Lamports uint64
	Data     []byte
	Owner    ed25519.PublicKey

	IsSigner   bool
	IsWritable bool
}

type accountSnapshot struct {
	lamports uint64
	data     []byte
	owner    ed25519.PublicKey
}

func (a *Account) snapshot() accountSnapshot {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)

	owner := make(ed25519.PublicKey, len(a.Owner))
	copy(owner, a.Owner)

	return accountSnapshot{
		lamports: a.Lamports,
		data:     data,
		owner:    owner,
	}
}

func (a *Account) restore(s accountSnapshot) {
	a.Lamports = s.lamports
	a.Data = s.data
	a.Owner = s.owner
}
