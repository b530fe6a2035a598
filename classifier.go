package walletsync

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes and the JSON-RPC codes wallets commonly return.
const (
	codeUserRejectedRequest = 4001
	codeUnauthorized        = 4100
	codeDisconnected        = 4900
	codeChainDisconnected   = 4901
	codeUnrecognizedChain   = 4902
	codeRequestPending      = -32002
)

var codeKinds = map[int]ErrorKind{
	codeUserRejectedRequest: KindNetworkSwitchFailed,
	codeRequestPending:      KindNetworkSwitchFailed,
	codeUnrecognizedChain:   KindUnsupportedNetwork,
	codeUnauthorized:        KindWalletNotConnected,
	codeDisconnected:        KindWalletNotConnected,
	codeChainDisconnected:   KindChainMismatch,
}

// substring rules are checked in order, first match wins
var messageRules = []struct {
	kind     ErrorKind
	patterns []string
}{
	{KindNetworkSwitchFailed, []string{
		"user rejected", "user denied", "rejected the request", "request rejected",
		"user cancelled", "user canceled", "already pending",
	}},
	{KindUnsupportedNetwork, []string{
		"unrecognized chain", "unsupported chain", "unsupported network",
		"unknown chain", "chain not configured", "try adding the chain",
	}},
	{KindContractAddressNotFound, []string{
		"contract address not found", "no contract code", "contract not deployed",
	}},
	{KindWalletNotConnected, []string{
		"wallet not connected", "not connected", "no accounts", "connector not found",
		"not been authorized by the user", "unauthorized account",
	}},
	{KindChainMismatch, []string{
		"chain mismatch", "does not match the target chain", "wrong network",
	}},
	{KindRpcConnectionFailed, []string{
		"connection refused", "connection reset", "failed to fetch", "network error",
		"no such host", "dial tcp", "timeout", "timed out", "could not connect",
	}},
}

// eofPattern matches EOF as a word, not inside words like "geofence"
var eofPattern = regexp.MustCompile(`\beof\b`)

// Classify maps a raw wallet or provider error onto the closed error taxonomy.
// It never panics. A nil error classifies to nil; anything it cannot place is
// KindUnknown carrying the original message.
func Classify(err error) *NetworkError {
	if err == nil {
		return nil
	}

	var classified *NetworkError
	if errors.As(err, &classified) {
		return classified
	}

	msg := err.Error()
	out := &NetworkError{Kind: KindUnknown, Message: msg, Cause: err}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if kind, ok := codeKinds[rpcErr.ErrorCode()]; ok {
			out.Kind = kind
			return out
		}
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			out.Kind = kind
			return out
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		out.Kind = KindRpcConnectionFailed
		return out
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		out.Kind = KindRpcConnectionFailed
		return out
	}

	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				out.Kind = rule.kind
				return out
			}
		}
	}
	if eofPattern.MatchString(lower) {
		out.Kind = KindRpcConnectionFailed
	}
	return out
}

// classifySwitchError narrows a classification for a failed chain switch:
// anything that is neither a cancellation nor an unsupported target is Unknown.
func classifySwitchError(err error, from, to uint64) *NetworkError {
	ne := Classify(err)
	if ne == nil {
		return nil
	}
	out := *ne
	switch out.Kind {
	case KindNetworkSwitchFailed, KindUnsupportedNetwork:
	default:
		out.Kind = KindUnknown
	}
	if from != 0 {
		out.withChainID(from)
	}
	return out.withExpectedChainID(to)
}
