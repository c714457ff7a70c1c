package gateway

import (
	"fmt"
	"strings"

	dErrors "trustmint/pkg/domain-errors"
)

// RejectedError carries the engine result of a definitively failed
// submission. It is reachable with errors.As from the coded error the
// gateway returns.
type RejectedError struct {
	EngineResult string
	Message      string
	Hash         string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger rejected %s: %s (%s)", e.Hash, e.EngineResult, e.Message)
	}
	return fmt.Sprintf("ledger rejected %s: %s", e.Hash, e.EngineResult)
}

// TimeoutError reports a submission that was not validated within the wait
// window. The outcome is unknown; query Hash before resubmitting.
type TimeoutError struct {
	Hash string
}

func (e *TimeoutError) Error() string {
	return "ledger validation timed out for " + e.Hash
}

func rejected(engineResult, message, hash string) error {
	return dErrors.Wrap(&RejectedError{EngineResult: engineResult, Message: message, Hash: hash},
		dErrors.CodeLedgerRejected, "transaction rejected")
}

func timedOut(hash string) error {
	return dErrors.Wrap(&TimeoutError{Hash: hash}, dErrors.CodeLedgerTimeout, "validation timeout")
}

func connectionError(err error, msg string) error {
	return dErrors.Wrap(err, dErrors.CodeConnection, msg)
}

// definitiveFailure reports preliminary results that can never be applied.
// tel results are local to the answering server and ter results may still
// apply, so both are left to the validation wait.
func definitiveFailure(engineResult string) bool {
	for _, prefix := range []string{"tem", "tef"} {
		if strings.HasPrefix(engineResult, prefix) {
			return true
		}
	}
	return false
}

// definitiveRPCError reports node errors that no retry of the same request
// can clear.
func definitiveRPCError(code string) bool {
	switch code {
	case "actNotFound", "actMalformed":
		return true
	}
	return false
}
