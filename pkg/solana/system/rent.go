package system

import (
	"github.com/pkg/errors"

	"github.com/alickrxu/escrow-program/pkg/solana/binary"
)

const (
	// RentAccountSize is the serialized size of the rent sysvar's data.
	RentAccountSize = 17

	// accountStorageOverhead is the number of bytes the runtime charges
	// for per account, on top of the account's own data.
	//
	// Reference: https://github.com/solana-labs/solana/blob/master/sdk/program/src/rent.rs
	accountStorageOverhead = 128

	defaultLamportsPerByteYear = 1_000_000_000 / 100 * 365 / (1024 * 1024)
	defaultExemptionThreshold  = 2.0
	defaultBurnPercent         = 50
)

var ErrInvalidRentAccountSize = errors.New("invalid rent sysvar account size")

// Rent holds the rent parameters published under the rent sysvar.
type Rent struct {
	// LamportsPerByteYear is the rental rate in lamports per byte-year.
	LamportsPerByteYear uint64
	// ExemptionThreshold is the amount of time (in years) a balance
	// must cover rent for to be exempt from collection.
	ExemptionThreshold float64
	// BurnPercent is the percentage of collected rent that is burned.
	BurnPercent uint8
}

// DefaultRent returns the rent parameters the cluster boots with.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: defaultLamportsPerByteYear,
		ExemptionThreshold:  defaultExemptionThreshold,
		BurnPercent:         defaultBurnPercent,
	}
}

// MinimumBalance returns the minimum lamport balance an account of the
// given data length must hold to be exempt from rent collection.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	bytes := uint64(accountStorageOverhead + dataLen)
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether an account with the given balance and data
// length is exempt from rent collection.
func (r Rent) IsExempt(lamports uint64, dataLen int) bool {
	return lamports >= r.MinimumBalance(dataLen)
}

func (r Rent) Marshal() []byte {
	b := make([]byte, RentAccountSize)

	var offset int
	binary.PutUint64(b[offset:], r.LamportsPerByteYear, &offset)
	binary.PutFloat64(b[offset:], r.ExemptionThreshold, &offset)
	binary.PutUint8(b[offset:], r.BurnPercent, &offset)

	return b
}

func (r *Rent) Unmarshal(data []byte) error {
	if len(data) != RentAccountSize {
		return ErrInvalidRentAccountSize
	}

	var offset int
	binary.GetUint64(data[offset:], &r.LamportsPerByteYear, &offset)
	binary.GetFloat64(data[offset:], &r.ExemptionThreshold, &offset)
	binary.GetUint8(data[offset:], &r.BurnPercent, &offset)

	return nil
}
