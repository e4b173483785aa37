package crowdfund

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// Error is a crowdfund program error. It is surfaced to callers as a custom
// program error code.
type Error uint32

const (
	ErrInvalidFeeAccount Error = iota
	ErrInvalidAuthority
	ErrInvalidSignature
	ErrAlreadyEnabled
	ErrCreatorMismatch
	ErrInvalidAmount
	ErrIncorrectTokenProgram
	ErrFeeVaultMismatch
	ErrInvalidFeeMint
	ErrDecode
	ErrDelegatedTransferFailed
	ErrNotEnoughAccountKeys
	ErrInvalidCampaignData
)

var errorMessages = map[Error]string{
	ErrInvalidFeeAccount:       "invalid fee account",
	ErrInvalidAuthority:        "invalid authority",
	ErrInvalidSignature:        "invalid signature",
	ErrAlreadyEnabled:          "already enabled",
	ErrCreatorMismatch:         "creator mismatch",
	ErrInvalidAmount:           "invalid amount",
	ErrIncorrectTokenProgram:   "incorrect token program",
	ErrFeeVaultMismatch:        "fee vault mismatch",
	ErrInvalidFeeMint:          "invalid fee mint",
	ErrDecode:                  "invalid instruction data",
	ErrDelegatedTransferFailed: "delegated transfer failed",
	ErrNotEnoughAccountKeys:    "not enough account keys",
	ErrInvalidCampaignData:     "invalid campaign data",
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("unknown crowdfund error %d", uint32(e))
}

// Code returns the custom program error the runtime reports for e.
func (e Error) Code() svm.CustomError {
	return svm.CustomError(e)
}

// transferError carries the settlement engine's failure.
type transferError struct {
	cause error
}

func (e *transferError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDelegatedTransferFailed, e.cause)
}

func (e *transferError) Unwrap() error {
	return e.cause
}

func (e *transferError) Is(target error) bool {
	return target == ErrDelegatedTransferFailed
}

// ErrorFromCode returns the crowdfund error carried by err, if any.
func ErrorFromCode(err error) (Error, bool) {
	if errors.Is(err, ErrDelegatedTransferFailed) {
		return ErrDelegatedTransferFailed, true
	}
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}
