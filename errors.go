package walletsync

import (
	"fmt"
)

// ErrorKind is the closed set of network error categories.
type ErrorKind string

const (
	KindUnsupportedNetwork      ErrorKind = "UnsupportedNetwork"
	KindNetworkSwitchFailed     ErrorKind = "NetworkSwitchFailed"
	KindContractAddressNotFound ErrorKind = "ContractAddressNotFound"
	KindRpcConnectionFailed     ErrorKind = "RpcConnectionFailed"
	KindWalletNotConnected      ErrorKind = "WalletNotConnected"
	KindChainMismatch           ErrorKind = "ChainMismatch"
	KindUnknown                 ErrorKind = "Unknown"
)

// Sentinels matched by (*NetworkError).Is, one per kind.
var (
	ErrUnsupportedNetwork      = fmt.Errorf("unsupported network")
	ErrNetworkSwitchFailed     = fmt.Errorf("network switch failed")
	ErrContractAddressNotFound = fmt.Errorf("contract address not found")
	ErrRpcConnectionFailed     = fmt.Errorf("rpc connection failed")
	ErrWalletNotConnected      = fmt.Errorf("wallet not connected")
	ErrChainMismatch           = fmt.Errorf("chain mismatch")
	ErrUnknown                 = fmt.Errorf("unknown network error")
)

// Errors outside the taxonomy.
var (
	ErrUnknownEnvironment = fmt.Errorf("unknown environment")
	ErrClientClosed       = fmt.Errorf("client closed")
	ErrClientNotStarted   = fmt.Errorf("client not started")
	ErrWalletNil          = fmt.Errorf("wallet cannot be nil")
	ErrStorageNil         = fmt.Errorf("storage cannot be nil")
)

var kindSentinels = map[ErrorKind]error{
	KindUnsupportedNetwork:      ErrUnsupportedNetwork,
	KindNetworkSwitchFailed:     ErrNetworkSwitchFailed,
	KindContractAddressNotFound: ErrContractAddressNotFound,
	KindRpcConnectionFailed:     ErrRpcConnectionFailed,
	KindWalletNotConnected:      ErrWalletNotConnected,
	KindChainMismatch:           ErrChainMismatch,
	KindUnknown:                 ErrUnknown,
}

// NetworkError is a classified network error. It is what ends up in
// NetworkState.Error.
type NetworkError struct {
	Kind            ErrorKind
	Message         string
	ChainID         *uint64
	ExpectedChainID *uint64

	// Cause is the raw error that was classified, if any
	Cause error
}

func newNetworkError(kind ErrorKind, msg string) *NetworkError {
	return &NetworkError{Kind: kind, Message: msg}
}

func (e *NetworkError) withChainID(chainID uint64) *NetworkError {
	e.ChainID = &chainID
	return e
}

func (e *NetworkError) withExpectedChainID(chainID uint64) *NetworkError {
	e.ExpectedChainID = &chainID
	return e
}

func (e *NetworkError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind.
func (e *NetworkError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}
