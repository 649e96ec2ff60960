package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(KindEntityBanned, "paymaster is banned")
	assert.Equal(t, KindEntityBanned, err.Kind)
	assert.Equal(t, "paymaster is banned", err.Error())
	assert.Equal(t, CodeEntityBanned, err.ErrorCode())
	assert.Nil(t, err.ErrorData())
}

func TestErrorCodeMapsEveryKnownKind(t *testing.T) {
	cases := map[Kind]int{
		KindSenderOrInitCode:         CodeSanityCheck,
		KindHighVerificationGasLimit: CodeSanityCheck,
		KindLowPreVerificationGas:    CodeSanityCheck,
		KindLowCallGasLimit:          CodeSanityCheck,
		KindHighMaxPriorityFeePerGas: CodeSanityCheck,
		KindLowMaxFeePerGas:          CodeSanityCheck,
		KindLowMaxPriorityFeePerGas:  CodeSanityCheck,
		KindSenderVerification:       CodeValidation,
		KindFactoryVerification:      CodeValidation,
		KindPaymasterVerification:    CodePaymaster,
		KindEntityBanned:             CodeEntityBanned,
		KindThrottledLimit:           CodeEntityBanned,
		KindStakeTooLow:              CodeStakeTooLow,
		KindUnstakeDelayTooLow:       CodeStakeTooLow,
		KindStakeIsZero:              CodeStakeTooLow,
		KindOpcodeValidation:         CodeOpcode,
		KindStorageAccessValidation:  CodeOpcode,
		KindSignature:                CodeSignature,
		KindExpiration:               CodeExpiration,
		KindSignatureAggregator:      CodeSignatureAggregator,
		KindUnknownError:             CodeExecution,
		KindNotFound:                 CodeUserOperationHash,
	}
	for kind, code := range cases {
		got := New(kind, "x").ErrorCode()
		assert.Equal(t, code, got, string(kind))
	}
}

func TestErrorCodeUnknownKindFallsBackToExecution(t *testing.T) {
	err := New(Kind("not-a-real-kind"), "x")
	assert.Equal(t, CodeExecution, err.ErrorCode())
}

func TestWrapFoldsIntoUnknownError(t *testing.T) {
	err := Wrap(errors.New("backend unavailable"))
	assert.Equal(t, KindUnknownError, err.Kind)
	assert.Equal(t, "backend unavailable", err.Error())
	assert.Equal(t, CodeExecution, err.ErrorCode())
}

func TestErrorDataRoundTrips(t *testing.T) {
	err := &Error{Kind: KindExpiration, Message: "expired", Data: 42}
	assert.Equal(t, 42, err.ErrorData())
}
