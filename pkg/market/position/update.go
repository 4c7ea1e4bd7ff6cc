package position

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// Update is implemented by each of the six update variants. apply
// mutates a copy of pos in place and returns it; it
// must not touch liquifunding or post-validation, which ApplyUpdate
// runs uniformly around every variant (grounded in
// original_source/contracts/market/src/state/position/update.rs's
// shared pipeline).
type Update interface {
	apply(cfg market.Config, liq *liquidity.Store, pos Position, pp price.Point) (Position, error)
}

// AddCollateralImpactLeverage: collateral up, leverage down, notional
// and counter unchanged.
type AddCollateralImpactLeverage struct {
	Amount decimal.NonZero[decimal.CollateralTag]
}

func (u AddCollateralImpactLeverage) apply(_ market.Config, _ *liquidity.Store, pos Position, _ price.Point) (Position, error) {
	pos.ActiveCollateral = pos.ActiveCollateral.Add(u.Amount.Amount())
	pos.DepositCollateral = pos.DepositCollateral.AddUnsigned(u.Amount.Amount())
	pos.Leverage = pos.ActiveLeverage()
	return pos, nil
}

// AddCollateralImpactSize: collateral up, leverage held, notional and
// counter up (fees apply).
type AddCollateralImpactSize struct {
	Amount decimal.NonZero[decimal.CollateralTag]
}

func (u AddCollateralImpactSize) apply(cfg market.Config, liq *liquidity.Store, pos Position, pp price.Point) (Position, error) {
	add := u.Amount.Amount()
	newNotionalMag := pos.NotionalSizeInCollateral.Abs().Add(add)
	newNotional := decimal.NewSigned[decimal.CollateralTag](applySign(newNotionalMag.Dec(), pos.Dir))

	newCounter := CounterCollateralFromTakeProfit(pos.Market, pos.ActiveCollateral.Add(add), pos.Leverage, pos.EntryPriceBase, pos.TakeProfitPriceBase)

	fee := fees.TradeFeeUpdate(fees.Rates{
		TradingFeeNotionalSize:      cfg.TradingFeeNotionalSize,
		TradingFeeCounterCollateral: cfg.TradingFeeCounterCollateral,
	}, pos.NotionalSizeInCollateral, newNotional, pos.CounterCollateral, newCounter)

	extraLock, err := newCounter.Sub(pos.CounterCollateral)
	if err == nil {
		if err := liq.Lock(extraLock); err != nil {
			return Position{}, err
		}
	}

	active, err := pos.ActiveCollateral.Add(add).Sub(fee)
	if err != nil {
		return Position{}, merrors.ErrInsufficientMargin
	}
	if err := liq.AccrueXlpYield(fee); err != nil {
		return Position{}, err
	}

	pos.ActiveCollateral = active
	pos.DepositCollateral = pos.DepositCollateral.AddUnsigned(add)
	pos.NotionalSizeInCollateral = newNotional
	pos.NotionalSize = decimal.NewSigned[decimal.NotionalTag](applySign(price.CollateralToNotional(newNotionalMag, pp).Dec(), pos.Dir))
	pos.CounterCollateral = newCounter
	pos.TradingFee = pos.TradingFee.Add(fee, price.CollateralToUsd(fee, pp))
	return pos, nil
}

// RemoveCollateralImpactLeverage: collateral down, leverage up (bounded).
type RemoveCollateralImpactLeverage struct {
	Amount decimal.NonZero[decimal.CollateralTag]
}

func (u RemoveCollateralImpactLeverage) apply(cfg market.Config, _ *liquidity.Store, pos Position, _ price.Point) (Position, error) {
	active, err := pos.ActiveCollateral.Sub(u.Amount.Amount())
	if err != nil {
		return Position{}, merrors.ErrInsufficientMargin
	}
	pos.ActiveCollateral = active
	pos.DepositCollateral = pos.DepositCollateral.SubUnsigned(u.Amount.Amount())
	pos.Leverage = pos.ActiveLeverage()
	if pos.Leverage.GT(cfg.MaxLeverage) {
		return Position{}, merrors.ErrPositionUpdate
	}
	return pos, nil
}

// RemoveCollateralImpactSize: collateral down, notional down, counter down.
type RemoveCollateralImpactSize struct {
	Amount decimal.NonZero[decimal.CollateralTag]
}

func (u RemoveCollateralImpactSize) apply(cfg market.Config, liq *liquidity.Store, pos Position, pp price.Point) (Position, error) {
	remove := u.Amount.Amount()
	newNotionalMag, err := pos.NotionalSizeInCollateral.Abs().Sub(remove)
	if err != nil {
		return Position{}, merrors.ErrPositionUpdate
	}
	if newNotionalMag.IsZero() {
		return Position{}, merrors.ErrPositionUpdate
	}
	newNotional := decimal.NewSigned[decimal.CollateralTag](applySign(newNotionalMag.Dec(), pos.Dir))

	newCounter := CounterCollateralFromTakeProfit(pos.Market, pos.ActiveCollateral.SaturatingSub(remove), pos.Leverage, pos.EntryPriceBase, pos.TakeProfitPriceBase)
	releaseLock, err := pos.CounterCollateral.Sub(newCounter)
	if err == nil {
		if err := liq.Unlock(releaseLock); err != nil {
			return Position{}, err
		}
	}

	fee := fees.TradeFeeUpdate(fees.Rates{
		TradingFeeNotionalSize:      cfg.TradingFeeNotionalSize,
		TradingFeeCounterCollateral: cfg.TradingFeeCounterCollateral,
	}, pos.NotionalSizeInCollateral, newNotional, pos.CounterCollateral, newCounter)

	active, err := pos.ActiveCollateral.Sub(remove)
	if err != nil {
		return Position{}, merrors.ErrInsufficientMargin
	}
	active, err = active.Sub(fee)
	if err != nil {
		return Position{}, merrors.ErrInsufficientMargin
	}
	if err := liq.AccrueXlpYield(fee); err != nil {
		return Position{}, err
	}

	pos.ActiveCollateral = active
	pos.DepositCollateral = pos.DepositCollateral.SubUnsigned(remove)
	pos.NotionalSizeInCollateral = newNotional
	pos.NotionalSize = decimal.NewSigned[decimal.NotionalTag](applySign(price.CollateralToNotional(newNotionalMag, pp).Dec(), pos.Dir))
	pos.CounterCollateral = newCounter
	pos.TradingFee = pos.TradingFee.Add(fee, price.CollateralToUsd(fee, pp))
	return pos, nil
}

// UpdateLeverage: notional recomputed, counter scaled to keep the
// payout ratio.
type UpdateLeverage struct {
	NewLeverage sdkmath.LegacyDec
}

func (u UpdateLeverage) apply(cfg market.Config, liq *liquidity.Store, pos Position, pp price.Point) (Position, error) {
	if u.NewLeverage.GT(cfg.MaxLeverage) {
		return Position{}, merrors.ErrPositionUpdate
	}

	newNotionalMag := pos.ActiveCollateral.Mul(u.NewLeverage)
	newNotional := decimal.NewSigned[decimal.CollateralTag](applySign(newNotionalMag.Dec(), pos.Dir))

	ratio := u.NewLeverage.Quo(pos.Leverage)
	newCounter := pos.CounterCollateral.Mul(ratio)

	delta, err := newCounter.Sub(pos.CounterCollateral)
	if err == nil {
		if err := liq.Lock(delta); err != nil {
			return Position{}, err
		}
	} else {
		released, _ := pos.CounterCollateral.Sub(newCounter)
		if err := liq.Unlock(released); err != nil {
			return Position{}, err
		}
	}

	pos.Leverage = u.NewLeverage
	pos.NotionalSizeInCollateral = newNotional
	pos.NotionalSize = decimal.NewSigned[decimal.NotionalTag](applySign(price.CollateralToNotional(newNotionalMag, pp).Dec(), pos.Dir))
	pos.CounterCollateral = newCounter
	return pos, nil
}

// UpdateTriggers updates take-profit/stop-loss/max-gains trigger
// prices only; max-gains recomputes counter_collateral (max_gains is
// routed to take_profit
// internally).
type UpdateTriggers struct {
	StopLoss            *sdkmath.LegacyDec
	TakeProfitPriceBase  *sdkmath.LegacyDec
	MaxGains             *sdkmath.LegacyDec // wire-compatible only
}

// MaxGainsToTakeProfit converts a deprecated max_gains ratio into an
// equivalent take-profit price in base terms.
func MaxGainsToTakeProfit(entryPriceBase, maxGains sdkmath.LegacyDec) sdkmath.LegacyDec {
	return entryPriceBase.Mul(sdkmath.LegacyOneDec().Add(maxGains))
}

func (u UpdateTriggers) apply(_ market.Config, liq *liquidity.Store, pos Position, _ price.Point) (Position, error) {
	if u.StopLoss != nil {
		pos.StopLossOverride = u.StopLoss
	}

	tp := u.TakeProfitPriceBase
	if u.MaxGains != nil {
		converted := MaxGainsToTakeProfit(pos.EntryPriceBase, *u.MaxGains)
		tp = &converted
	}
	if tp != nil {
		pos.TakeProfitPriceBase = *tp
		newCounter := CounterCollateralFromTakeProfit(pos.Market, pos.ActiveCollateral, pos.Leverage, pos.EntryPriceBase, *tp)
		delta, err := newCounter.Sub(pos.CounterCollateral)
		if err == nil {
			if err := liq.Lock(delta); err != nil {
				return Position{}, err
			}
		} else {
			released, _ := pos.CounterCollateral.Sub(newCounter)
			if err := liq.Unlock(released); err != nil {
				return Position{}, err
			}
		}
		pos.CounterCollateral = newCounter
	}
	return pos, nil
}

// ApplyUpdate runs the shared pipeline every update variant requires:
// liquifund first (delegated to the caller via
// liquifund, since liquifunding itself lives in
// pkg/market/liquifunding and would otherwise create an import
// cycle), apply the structural change, then validate invariants
// (leverage, direction-to-base unchanged), then return the updated
// position for the caller to persist and emit history for.
func ApplyUpdate(cfg market.Config, liq *liquidity.Store, pos Position, pp price.Point, u Update) (Position, error) {
	before := pos.DirectionToBase()

	updated, err := u.apply(cfg, liq, pos, pp)
	if err != nil {
		return Position{}, err
	}

	if updated.NotionalSizeInCollateral.IsZero() {
		return Position{}, merrors.ErrPositionUpdate
	}
	if updated.ActiveCollateral.IsZero() || !updated.ActiveCollateral.IsPositive() {
		return Position{}, merrors.ErrInsufficientMargin
	}
	if updated.CounterCollateral.IsZero() {
		return Position{}, merrors.ErrPositionUpdate
	}
	if updated.ActiveLeverage().GT(cfg.MaxLeverage) {
		return Position{}, merrors.ErrPositionUpdate
	}
	if updated.DirectionToBase() != before {
		return Position{}, merrors.ErrDirectionToBaseFlipped
	}

	return updated, nil
}
