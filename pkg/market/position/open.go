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

// OpenParams are the validated inputs to Open.
type OpenParams struct {
	Owner      string
	Collateral decimal.NonZero[decimal.CollateralTag]
	Leverage   sdkmath.LegacyDec
	Dir        market.Direction
	StopLoss   *sdkmath.LegacyDec
	TakeProfit sdkmath.LegacyDec
}

// Open implements the position-open algorithm:
//  1. validate leverage
//  2. compute notional_size from collateral/leverage/price
//  3. compute counter_collateral from the take-profit payout curve
//  4. compute and deduct trading + delta-neutrality fees, lock
//     counter_collateral from the LP pool
//  5. compute liquidation_margin
//  6. assign id, persist, return the new Position
func Open(
	store *Store,
	liq *liquidity.Store,
	cfg market.Config,
	ident market.Ident,
	pp price.Point,
	netOpenInterestBefore decimal.Signed[decimal.CollateralTag],
	params OpenParams,
) (Position, decimal.Collateral, error) {
	if params.Leverage.GT(cfg.MaxLeverage) {
		return Position{}, decimal.Collateral{}, merrors.ErrPositionUpdate
	}

	collateral := params.Collateral.Amount()

	// notional_size = leverage_to_notional * collateral / price_notional (signed)
	notionalMag := collateral.Mul(params.Leverage)
	notionalSigned := decimal.NewSigned[decimal.CollateralTag](
		applySign(notionalMag.Dec(), params.Dir))
	notionalInNotional := decimal.NewSigned[decimal.NotionalTag](
		applySign(price.CollateralToNotional(notionalMag, pp).Dec(), params.Dir))

	counterCollateral := CounterCollateralFromTakeProfit(ident, collateral, params.Leverage, pp.PriceBase, params.TakeProfit)

	tradingFee := fees.TradeFeeOpen(fees.Rates{
		TradingFeeNotionalSize:      cfg.TradingFeeNotionalSize,
		TradingFeeCounterCollateral: cfg.TradingFeeCounterCollateral,
	}, notionalSigned, counterCollateral)

	dnf := fees.DeltaNeutralityFee(netOpenInterestBefore, notionalSigned, cfg.DeltaNeutralityFeeSensitivity, cfg.DeltaNeutralityFeeCap)

	activeCollateral, err := collateral.Sub(tradingFee)
	if err != nil {
		return Position{}, decimal.Collateral{}, merrors.ErrInsufficientMargin
	}
	if dnf.IsPositive() {
		activeCollateral, err = activeCollateral.Sub(dnf.Abs())
		if err != nil {
			return Position{}, decimal.Collateral{}, merrors.ErrInsufficientMargin
		}
	} else if dnf.IsNegative() {
		activeCollateral = activeCollateral.Add(dnf.Abs())
	}

	if err := liq.Lock(counterCollateral); err != nil {
		return Position{}, decimal.Collateral{}, err
	}

	if err := liq.AccrueXlpYield(tradingFee); err != nil {
		return Position{}, decimal.Collateral{}, err
	}
	protocolDnf, fundDnf := fees.DnfSplit(dnf, cfg.DeltaNeutralityFeeTax)
	if err := liq.CreditDnfSplit(protocolDnf, fundDnf); err != nil {
		return Position{}, decimal.Collateral{}, err
	}

	id, err := store.NextId()
	if err != nil {
		return Position{}, decimal.Collateral{}, err
	}

	pos := Position{
		Id:                       id,
		Owner:                    params.Owner,
		Market:                   ident,
		Dir:                      params.Dir,
		DepositCollateral:        decimal.FromUnsigned(collateral),
		ActiveCollateral:         activeCollateral,
		CounterCollateral:        counterCollateral,
		NotionalSize:             notionalInNotional,
		NotionalSizeInCollateral: notionalSigned,
		Leverage:                 params.Leverage,
		TradingFee:               FeeTotals{}.Add(tradingFee, price.CollateralToUsd(tradingFee, pp)),
		DeltaNeutralityFee:       FeeTotals{}.Add(dnf.Abs(), price.CollateralToUsd(dnf.Abs(), pp)),
		EntryPriceBase:           pp.PriceBase,
		StopLossOverride:         params.StopLoss,
		TakeProfitPriceBase:      params.TakeProfit,
		FundingAccumulatorAt:     sdkmath.LegacyZeroDec(),
	}
	pos.LiquifundedAt = pp.Timestamp
	pos.CreatedAt = pp.Timestamp
	pos.NextLiquifunding = pp.Timestamp.Add(cfg.LiquifundingDelay())

	pos.LiquidationMargin = computeLiquidationMargin(cfg, pos, pp)

	if pos.ActiveCollateral.LTE(pos.LiquidationMargin.Total()) {
		return Position{}, decimal.Collateral{}, merrors.ErrInsufficientMargin
	}

	if err := store.Save(pos); err != nil {
		return Position{}, decimal.Collateral{}, err
	}

	return pos, tradingFee, nil
}

func applySign(d sdkmath.LegacyDec, dir market.Direction) sdkmath.LegacyDec {
	if dir == market.Short {
		return d.Neg()
	}
	return d
}

// CounterCollateralFromTakeProfit computes the LP-side reserve via
// the payout-curve inverse: for collateral-is-quote it is
// collateral*(take_profit/entry - 1); for collateral-is-base a more
// elaborate formula using active leverage applies, since in that
// market type the payout curve is convex in the base-denominated
// collateral rather than linear.
func CounterCollateralFromTakeProfit(ident market.Ident, collateral decimal.Collateral, leverage sdkmath.LegacyDec, entryPriceBase, takeProfitPriceBase sdkmath.LegacyDec) decimal.Collateral {
	if ident.Type == market.CollateralIsQuote {
		ratio := takeProfitPriceBase.Quo(entryPriceBase).Sub(sdkmath.LegacyOneDec())
		mag := collateral.Dec().Mul(ratio).Abs()
		return decimal.NewAmount[decimal.CollateralTag](mag)
	}

	// collateral-is-base: the trader's collateral is denominated in
	// the base asset while payout is linear in notional (quote)
	// terms, so the take-profit distance must be scaled by leverage
	// and by the entry price to bring it back into base-collateral
	// units.
	ratio := sdkmath.LegacyOneDec().Sub(entryPriceBase.Quo(takeProfitPriceBase)).Abs()
	mag := collateral.Dec().Mul(leverage).Mul(ratio)
	return decimal.NewAmount[decimal.CollateralTag](mag)
}

func computeLiquidationMargin(cfg market.Config, pos Position, pp price.Point) LiquidationMargin {
	elapsed := cfg.LiquifundingDelaySeconds

	borrowRate := cfg.BorrowFeeRateMaxAnnualized // one-period upper-bound reserve; exact per-position
	// utilization-based rate is recomputed at liquifunding.
	borrow := pos.ActiveCollateral.Mul(fees.AccrueOverPeriod(borrowRate, elapsed, cfg.SecondsPerYear))

	fundingRate := cfg.FundingRateMaxAnnualized
	funding := pos.NotionalSizeInCollateral.Abs().Mul(fees.AccrueOverPeriod(fundingRate, elapsed, cfg.SecondsPerYear))

	dnf := pos.DeltaNeutralityFee.Collateral

	crank := decimal.NewAmount[decimal.CollateralTag](cfg.CrankFeeCharged).Quo(pp.PriceUsd)

	exposure := pos.NotionalSizeInCollateral.Abs().Mul(cfg.ExposureMarginRatio)

	return LiquidationMargin{
		Borrow:          borrow,
		Funding:         funding,
		DeltaNeutrality: dnf,
		Crank:           crank,
		Exposure:        exposure,
	}
}
