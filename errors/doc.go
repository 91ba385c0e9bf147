// Package errors provides the structured error taxonomy for the devcomm bus.
//
// Every failure surfaced by the bus carries a Code identifying what went wrong
// and a Category governing retry semantics. Transient broker failures are
// retried by the reliable sender; validation and rate-limit failures are fatal
// to the single send and must not be retried.
//
// Normal protocol outcomes are deliberately NOT errors: a suppressed duplicate,
// a lost lock claim and a request that times out waiting for a response are all
// expressed as plain return values by their packages.
//
// Usage:
//
//	if err := sender.Send(ctx, msg); err != nil {
//	    if errors.Is(err, errors.CodeBrokerUnavailable) {
//	        // message was journaled to the local fallback file
//	    }
//	}
package errors
