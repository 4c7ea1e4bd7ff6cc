// Package engine is the message surface: one Go method
// per external message, each either running synchronously (liquidity,
// operational messages) or enqueuing a deferred item that a later
// crank step executes against a fresh price point (position lifecycle
// and limit orders — every price-sensitive message enqueues a
// deferred item).
//
// Grounded field-for-field in
// pkg/contracts/levana/market/messages.go's ExecuteMsg variants.
package engine

import (
	"encoding/json"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
)

// SlippageAssert lets a caller abort a deferred open or close if the
// price at execution time has moved too far from the price they saw
// when they enqueued the message. Tolerance is a fraction of price
// (0.001 means 0.1%); a zero tolerance disables the check entirely
// rather than requiring an exact match.
type SlippageAssert struct {
	Price     sdkmath.LegacyDec
	Tolerance sdkmath.LegacyDec
}

// OpenPositionParams carries OpenPosition's fields through the
// deferred queue: slippage_assert, leverage, direction, stop_loss,
// take_profit.
type OpenPositionParams struct {
	Collateral     decimal.Collateral
	Leverage       sdkmath.LegacyDec
	Dir            market.Direction
	StopLoss       *sdkmath.LegacyDec
	TakeProfit     sdkmath.LegacyDec
	SlippageAssert *SlippageAssert
}

// UpdateCollateralParams backs every AddCollateral/RemoveCollateral
// variant; Kind on the enclosing deferred.Item picks which one runs.
type UpdateCollateralParams struct {
	PositionId market.PositionId
	Amount     decimal.Collateral
}

// UpdateLeverageParams backs UpdatePositionLeverage.
type UpdateLeverageParams struct {
	PositionId market.PositionId
	Leverage   sdkmath.LegacyDec
}

// SetTriggerOrderParams backs SetTriggerOrder and the wire-compatible
// UpdatePositionMaxGains/TakeProfitPrice/StopLossPrice variants, which
// all reduce to the same StopLoss/TakeProfit/MaxGains update.
type SetTriggerOrderParams struct {
	PositionId market.PositionId
	StopLoss   *sdkmath.LegacyDec
	TakeProfit *sdkmath.LegacyDec
	MaxGains   *sdkmath.LegacyDec
}

// ClosePositionParams backs ClosePosition.
type ClosePositionParams struct {
	PositionId     market.PositionId
	SlippageAssert *SlippageAssert
}

// PlaceLimitOrderParams backs PlaceLimitOrder: the same shape as
// OpenPosition plus the trigger price the order waits for.
type PlaceLimitOrderParams struct {
	TriggerPriceBase sdkmath.LegacyDec
	Collateral       decimal.Collateral
	Leverage         sdkmath.LegacyDec
	Dir              market.Direction
	StopLoss         *sdkmath.LegacyDec
	TakeProfit       sdkmath.LegacyDec
}

// CancelLimitOrderParams backs CancelLimitOrder.
type CancelLimitOrderParams struct {
	OrderId market.OrderId
}

func encodeParams(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
