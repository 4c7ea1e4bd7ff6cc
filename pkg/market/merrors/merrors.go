// Package merrors collects the market engine's sentinel errors,
// grouped by cause: auth, validation, insufficient funds, price
// staleness. Mirrors the flat errors.New-per-sentinel idiom of
// pkg/errors/errors.go and pkg/db/errors.go; callers wrap with
// fmt.Errorf("...: %w", err) and tests/handlers branch with
// errors.Is.
package merrors

import "errors"

var (
	// ErrAuth: caller not authorized for the target.
	ErrAuth = errors.New("caller is not authorized for this action")

	// ErrConfig: invalid configuration parameter.
	ErrConfig = errors.New("invalid configuration parameter")

	// ErrPriceNotFound / ErrPriceTooOld: oracle staleness or empty history.
	ErrPriceNotFound = errors.New("no price point available")
	ErrPriceTooOld   = errors.New("price feed is stale")

	// ErrSlippageAssert: price moved outside tolerance during deferred wait.
	ErrSlippageAssert = errors.New("price moved outside slippage tolerance")

	// ErrLiquidityCooldown: LP tried to transfer/withdraw within cooldown.
	ErrLiquidityCooldown = errors.New("liquidity provider is within the withdrawal cooldown")

	// ErrPositionUpdate: invariant violation (zero notional, leverage
	// out of range, direction-to-base flip).
	ErrPositionUpdate = errors.New("position update violates an invariant")

	// ErrDirectionToBaseFlipped: a specialized PositionUpdate case.
	ErrDirectionToBaseFlipped = errors.New("position update would flip direction to base")

	// Dedup flags.
	ErrPositionUpdateAlreadyPending = errors.New("position already has a deferred update pending")
	ErrPositionAlreadyClosing       = errors.New("position already has a close queued")
	ErrLimitOrderAlreadyCanceling   = errors.New("limit order already has a cancel queued")

	// ErrInsufficientMargin: liquifunding cannot cover a fee component.
	// Carries which component via InsufficientMarginError below.
	ErrInsufficientMargin = errors.New("insufficient margin to cover fee component")

	// ErrCw20Funds / ErrExpired: token / allowance problems.
	ErrCw20Funds = errors.New("attached funds do not match required cw20/native amount")
	ErrExpired   = errors.New("action expired before execution")

	// ErrPendingDeferredExec: action attempted on an entity with
	// pending deferred work that forbids it.
	ErrPendingDeferredExec = errors.New("entity has pending deferred execution work")

	// ErrInternalReply: unrecognized reply id.
	ErrInternalReply = errors.New("unrecognized internal reply id")
)

// MarginComponent names which liquidation-margin component was
// insufficient, grounded in original_source's FeeType enum
// (packages/msg/src/contracts/market/fees.rs InsufficientMarginEvent).
type MarginComponent string

const (
	MarginOverall         MarginComponent = "overall"
	MarginBorrow          MarginComponent = "borrow"
	MarginFunding         MarginComponent = "funding"
	MarginDeltaNeutrality MarginComponent = "delta_neutrality"
	MarginFundingTotal    MarginComponent = "funding_total"
	MarginCrank           MarginComponent = "crank"
)

// InsufficientMarginError wraps ErrInsufficientMargin with the
// specific component and the available/requested amounts, matching
// the original's InsufficientMarginEvent{available, requested, desc}.
type InsufficientMarginError struct {
	Component MarginComponent
	Available string
	Requested string
}

func (e *InsufficientMarginError) Error() string {
	return "insufficient margin (" + string(e.Component) + "): available " +
		e.Available + ", requested " + e.Requested
}

func (e *InsufficientMarginError) Unwrap() error { return ErrInsufficientMargin }
