package escrow

import (
	"crypto/ed25519"

	"github.com/alickrxu/escrow-program/pkg/solana"
)

// custodyAuthoritySeed is the fixed domain-separation seed for the
// program-derived custody identity.
const custodyAuthoritySeed = "escrow"

// CustodyAuthority is the program-derived identity that owns every
// custody account while its trade is open. It is deterministic, lies off
// the ed25519 curve, and has no private key; the program proves control
// of it by re-deriving the seeds on every delegated sub-call.
type CustodyAuthority struct {
	Address ed25519.PublicKey
	Bump    uint8
}

// DeriveCustodyAuthority computes the custody identity for a deployment
// of the program. Anyone holding the program id can reproduce it.
func DeriveCustodyAuthority(program ed25519.PublicKey) (CustodyAuthority, error) {
	address, bump, err := solana.FindProgramAddressAndBump(program, []byte(custodyAuthoritySeed))
	if err != nil {
		return CustodyAuthority{}, err
	}
	return CustodyAuthority{Address: address, Bump: bump}, nil
}

// Seeds returns the seed groups that prove control of the authority when
// signing a delegated sub-call.
func (a CustodyAuthority) Seeds() [][]byte {
	return [][]byte{[]byte(custodyAuthoritySeed), {a.Bump}}
}
