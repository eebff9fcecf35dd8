package domain

import "errors"

// Marketplace error kinds. Every failed operation is fatal to that operation
// as a whole: nothing partially applies. The single place a failure is
// absorbed instead of propagated is the payout step, which degrades a failed
// push payment into a credit-ledger entry.
var (
	ErrBadParameters  = errors.New("invalid parameters")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAssetBusy      = errors.New("asset lock already held")
	ErrInactive       = errors.New("record no longer active")
	ErrAlreadySettled = errors.New("already settled")
	ErrTimeWindow     = errors.New("outside valid time window")
	ErrStolenAsset    = errors.New("asset flagged as stolen")
	ErrPriceMismatch  = errors.New("attached value does not match price")
	ErrTransferFailed = errors.New("asset or currency transfer failed")
	ErrPaused         = errors.New("marketplace paused")
	ErrReentrancy     = errors.New("reentrant call rejected")
	ErrNotFound       = errors.New("not found")
	ErrNoCredit       = errors.New("no pending credit")
	ErrLockHeld       = errors.New("lock already held")
)
