// Package rpcerr defines the ERC-4337 JSON-RPC error taxonomy returned by
// the validation pipeline and the UoPool facade. Every error surfaced to
// an external caller carries one of these codes, modeled on the JSON-RPC
// error shape used across the go-ethereum API surface.
package rpcerr

// Error codes from the ERC-4337 bundler JSON-RPC specification.
const (
	CodeValidation          = -32500
	CodePaymaster           = -32501
	CodeOpcode              = -32502
	CodeExpiration          = -32503
	CodeEntityBanned        = -32504
	CodeStakeTooLow         = -32505
	CodeSignatureAggregator = -32506
	CodeSignature           = -32507
	CodeExecution           = -32521
	CodeUserOperationHash   = -32601
	CodeSanityCheck         = -32602
)

// Kind names a specific error reason within a JSON-RPC error code, used by
// callers that need to branch on exactly which rule failed rather than
// just the numeric code.
type Kind string

const (
	KindSenderOrInitCode          Kind = "SenderOrInitCode"
	KindHighVerificationGasLimit  Kind = "HighVerificationGasLimit"
	KindLowPreVerificationGas     Kind = "LowPreVerificationGas"
	KindLowCallGasLimit           Kind = "LowCallGasLimit"
	KindHighMaxPriorityFeePerGas  Kind = "HighMaxPriorityFeePerGas"
	KindLowMaxFeePerGas           Kind = "LowMaxFeePerGas"
	KindLowMaxPriorityFeePerGas   Kind = "LowMaxPriorityFeePerGas"
	KindSenderVerification        Kind = "SenderVerification"
	KindFactoryVerification       Kind = "FactoryVerification"
	KindPaymasterVerification     Kind = "PaymasterVerification"
	KindEntityBanned              Kind = "EntityBanned"
	KindThrottledLimit            Kind = "ThrottledLimit"
	KindStakeTooLow               Kind = "StakeTooLow"
	KindUnstakeDelayTooLow         Kind = "UnstakeDelayTooLow"
	KindStakeIsZero                Kind = "StakeIsZero"
	KindOpcodeValidation           Kind = "OpcodeValidation"
	KindStorageAccessValidation    Kind = "StorageAccessValidation"
	KindSignature                  Kind = "Signature"
	KindExpiration                  Kind = "Expiration"
	KindSignatureAggregator        Kind = "SignatureAggregator"
	KindUnknownError                Kind = "UnknownError"
	KindNotFound                    Kind = "NotFound"
)

var kindCodes = map[Kind]int{
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

// Error is the typed error returned across the UoPool boundary. It
// implements error, and ErrorCode/ErrorData so a JSON-RPC adapter can
// marshal it without needing to know the specific Kind, mirroring the
// v2APIError shape used elsewhere in the go-ethereum-family JSON-RPC
// stack.
type Error struct {
	Kind    Kind
	Message string
	Data    interface{}
}

// New builds an Error of the given kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an UnknownError wrapping err, used at the pipeline boundary
// to fold backend and provider failures into a single user-visible kind
// without leaking internal error types.
func Wrap(err error) *Error {
	return &Error{Kind: KindUnknownError, Message: err.Error()}
}

func (e *Error) Error() string {
	return e.Message
}

// ErrorCode returns the JSON-RPC error code for e's Kind.
func (e *Error) ErrorCode() int {
	if code, ok := kindCodes[e.Kind]; ok {
		return code
	}
	return CodeExecution
}

// ErrorData returns additional structured data describing the failure, or
// nil if none was attached.
func (e *Error) ErrorData() interface{} {
	return e.Data
}
