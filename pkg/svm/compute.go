package svm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Compute unit cost constants.
const (
	CUDefault     = uint64(200_000)   // Default CU limit per transaction
	CUMax         = uint64(1_400_000) // Max CU limit per transaction
	CUInvokeBase  = uint64(1_000)     // Base cost for CPI
	CUPerAccount  = uint64(10)        // Cost per account passed to CPI
	CUPerDataByte = uint64(1)         // Cost per CPI instruction data byte

	CUCreateProgramAddress = uint64(1_500) // create_program_address
	CUFindProgramAddress   = uint64(1_500) // find_program_address per iteration

	CUSystemProgramDefault = uint64(150)   // System program base
	CUTokenTransfer        = uint64(4_645) // SPL token transfer
	CUProgramDefault       = uint64(2_000) // Charged per top-level instruction
)

// CPIDepthMax is the maximum CPI nesting depth.
const CPIDepthMax = 4

// Rent parameters.
const (
	RentLamportsPerByteYear = uint64(3480)
	RentExemptionYears      = uint64(2)
	AccountStorageOverhead  = uint64(128)
)

// RentExemptMinimum returns the balance an account holding dataLen bytes needs
// to be exempt from rent.
func RentExemptMinimum(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * RentLamportsPerByteYear * RentExemptionYears
}

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = errors.New("compute budget exceeded")
)

// ComputeMeter tracks compute unit consumption.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
	disabled  bool
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// NewComputeMeterDisabled creates a meter that never runs out.
func NewComputeMeterDisabled() *ComputeMeter {
	return &ComputeMeter{
		remaining: CUMax,
		limit:     CUMax,
		disabled:  true,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.disabled {
		atomic.AddUint64(&cm.consumed, cost)
		return nil
	}

	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
