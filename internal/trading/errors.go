package trading

import "errors"

var (
	// ErrUnknownStock is returned for operations on a code the manager does
	// not track.
	ErrUnknownStock = errors.New("trading: stock not managed")

	// ErrAlreadyBuying guards against a second buy while one is in flight.
	ErrAlreadyBuying = errors.New("trading: buy already in progress")

	// ErrAlreadySelling guards against a second sell while one is in flight.
	ErrAlreadySelling = errors.New("trading: sell already in progress")

	// ErrCooldownActive rejects a buy inside the post-buy cooldown window.
	ErrCooldownActive = errors.New("trading: buy cooldown active")

	// ErrDailyLimitReached rejects a buy past the per-day re-entry cap.
	ErrDailyLimitReached = errors.New("trading: daily buy limit reached")

	// ErrInvalidTransition marks a request that the transition table does
	// not allow from the current state. Callers log it and treat the
	// operation as a no-op.
	ErrInvalidTransition = errors.New("trading: invalid state transition")

	// ErrNoPosition is returned when a sell-side operation finds no open
	// position behind the state.
	ErrNoPosition = errors.New("trading: no open position")
)
