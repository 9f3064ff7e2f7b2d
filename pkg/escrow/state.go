package escrow

import (
	"crypto/ed25519"

	"github.com/alickrxu/escrow-program/pkg/solana/binary"
	"github.com/alickrxu/escrow-program/pkg/solana/runtime"
)

// EscrowAccountSize is the serialized size of an escrow record:
// is_initialized:1, initializer:32, custody:32, payout:32, amount:8.
const EscrowAccountSize = 105

// Escrow is the persisted state of one open trade. While initialized,
// the three account references are immutable; the record is erased
// exactly once, by either a settle or a cancel.
type Escrow struct {
	IsInitialized bool
	// Initializer is the depositing party. Only this identity may cancel.
	Initializer ed25519.PublicKey
	// CustodyAccount holds the deposit under the program-derived authority.
	CustodyAccount ed25519.PublicKey
	// InitializerPayoutAccount receives the counter-asset on settlement.
	InitializerPayoutAccount ed25519.PublicKey
	// ExpectedAmount is the quantity of the counter-asset demanded.
	ExpectedAmount uint64
}

func (e *Escrow) Marshal() []byte {
	b := make([]byte, EscrowAccountSize)

	var offset int
	if e.IsInitialized {
		b[0] = 1
	}
	offset++
	binary.PutKey32(b[offset:], e.Initializer, &offset)
	binary.PutKey32(b[offset:], e.CustodyAccount, &offset)
	binary.PutKey32(b[offset:], e.InitializerPayoutAccount, &offset)
	binary.PutUint64(b[offset:], e.ExpectedAmount, &offset)

	return b
}

// Unmarshal decodes an active escrow record. Empty storage, or storage
// whose initialized flag is unset, fails with ErrUninitializedAccount —
// this is what makes a second settle or cancel on an erased record fail
// deterministically.
func (e *Escrow) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return runtime.ErrUninitializedAccount
	}
	if err := e.unmarshal(b); err != nil {
		return err
	}
	if !e.IsInitialized {
		return runtime.ErrUninitializedAccount
	}
	return nil
}

// UnmarshalUnchecked decodes a correctly sized record without requiring
// it to be initialized, tolerating an all-zero storage slot.
func (e *Escrow) UnmarshalUnchecked(b []byte) error {
	return e.unmarshal(b)
}

func (e *Escrow) unmarshal(b []byte) error {
	if len(b) != EscrowAccountSize {
		return runtime.ErrInvalidAccountData
	}
	if b[0] > 1 {
		return runtime.ErrInvalidAccountData
	}

	var offset int
	e.IsInitialized = b[0] == 1
	offset++
	binary.GetKey32(b[offset:], &e.Initializer, &offset)
	binary.GetKey32(b[offset:], &e.CustodyAccount, &offset)
	binary.GetKey32(b[offset:], &e.InitializerPayoutAccount, &offset)
	binary.GetUint64(b[offset:], &e.ExpectedAmount, &offset)

	return nil
}
