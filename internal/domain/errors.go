package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrMalformedBet        = errors.New("malformed bet")
	ErrInvalidPrediction   = errors.New("invalid prediction response")
	ErrNoToolsAvailable    = errors.New("no tools available for selection")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingTransition   = errors.New("missing state machine transition")
	ErrMissingKey          = errors.New("synchronized data key missing")
	ErrTxFailed            = errors.New("transaction failed")
	ErrLockHeld            = errors.New("lock already held")
	ErrContextDone         = errors.New("context cancelled")
)
