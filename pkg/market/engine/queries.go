package engine

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/historydb"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/order"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// StatusReport answers Status: the market's identity,
// open/paused state, and current open-interest snapshot, the fields
// a dashboard or another market's crank-funding decision reads first.
type StatusReport struct {
	Ident        market.Ident
	Paused       bool
	ManualMode   bool
	LongNotional decimal.Notional
	ShortNotional decimal.Notional
	QueueSize    uint64
}

// Status backs the Status query.
func (m *Market) Status() (StatusReport, error) {
	st, err := m.Liquifund.Get()
	if err != nil {
		return StatusReport{}, err
	}
	queueSize, err := m.Deferred.QueueSize()
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Ident:         m.Ident,
		Paused:        m.Paused,
		ManualMode:    m.ManualMode,
		LongNotional:  st.LongNotional,
		ShortNotional: st.ShortNotional,
		QueueSize:     queueSize,
	}, nil
}

// SpotPrice backs SpotPrice: the latest point on or before
// at, or the very latest if at is nil.
func (m *Market) SpotPrice(at *mtime.Timestamp) (price.Point, error) {
	return m.Prices.Spot(at)
}

// SpotPriceHistory backs SpotPriceHistory, walking forward
// from a known point rather than taking a page cursor, since the feed
// is append-only and keyed by timestamp rather than sequence id.
func (m *Market) SpotPriceHistory(after mtime.Timestamp, limit int) ([]price.Point, error) {
	var out []price.Point
	cursor := after
	for i := 0; i < limit; i++ {
		pp, ok, err := m.Prices.SpotAfter(cursor)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, pp)
		cursor = pp.Timestamp
	}
	return out, nil
}

// OraclePrice backs OraclePrice: the raw composed point
// before any manual override is applied, i.e. exactly what Compose
// would produce right now.
func (m *Market) OraclePrice(composer price.Composer) (price.Point, error) {
	return composer.Compose()
}

// ListPositions backs Positions, listing every open
// position owned by owner.
func (m *Market) ListPositions(owner string) ([]position.Position, error) {
	var out []position.Position
	err := m.Positions.ScanOpen(func(p position.Position) bool {
		if p.Owner == owner {
			out = append(out, p)
		}
		return true
	})
	return out, err
}

// LimitOrder backs the LimitOrder query.
func (m *Market) LimitOrder(id market.OrderId) (order.Order, error) {
	return m.Orders.Get(id)
}

// LimitOrders backs LimitOrders: the pair of
// closest-to-triggering orders per direction, the same pair
// crank.Engine's BranchLimitOrder check reads.
type LimitOrdersReport struct {
	Long  *order.Order
	Short *order.Order
}

func (m *Market) LimitOrders(pp price.Point) (LimitOrdersReport, error) {
	var report LimitOrdersReport
	long, ok, err := m.Orders.TriggeredLong(pp.PriceBase)
	if err != nil {
		return report, err
	}
	if ok {
		report.Long = &long
	}
	short, ok, err := m.Orders.TriggeredShort(pp.PriceBase)
	if err != nil {
		return report, err
	}
	if ok {
		report.Short = &short
	}
	return report, nil
}

// ClosedPositionHistory backs ClosedPositionHistory, served
// from the Postgres read projection rather than the KV store: the
// position record itself is deleted on close, so nothing
// in the KV layer could answer this query at all.
func (m *Market) ClosedPositionHistory(db *historydb.DB, owner string, startAfterUnix *int64, limit int) ([]historydb.ClosedPositionRow, *int64, error) {
	return db.ClosedPositionHistory(owner, startAfterUnix, limit)
}

// TradeHistorySummary backs TradeHistorySummary, likewise
// served from the read projection.
func (m *Market) TradeHistorySummary(db *historydb.DB, owner string) ([]historydb.TradeHistorySummaryRow, error) {
	return db.TradeHistorySummary(owner)
}

// LpInfoReport answers LpInfo: the pool aggregate plus one
// provider's balances, the combination the withdraw/unstake UI needs
// in a single round trip.
type LpInfoReport struct {
	Pool     liquidity.Pool
	Provider liquidity.Provider
}

// LpInfo backs the LpInfo query.
func (m *Market) LpInfo(owner string) (LpInfoReport, error) {
	pool, err := m.Liquidity.Pool()
	if err != nil {
		return LpInfoReport{}, err
	}
	prov, err := m.Liquidity.Provider(owner)
	if err != nil {
		return LpInfoReport{}, err
	}
	return LpInfoReport{Pool: pool, Provider: prov}, nil
}

// DeltaNeutralityFee backs DeltaNeutralityFee: the fee a
// hypothetical position change of notionalDelta would incur right
// now, letting a trader preview the cost before submitting a message.
func (m *Market) DeltaNeutralityFee(pp price.Point, notionalDelta decimal.Signed[decimal.NotionalTag]) (decimal.Signed[decimal.CollateralTag], error) {
	netOi, err := m.netOpenInterest(pp)
	if err != nil {
		return decimal.Signed[decimal.CollateralTag]{}, err
	}
	deltaCollateralAbs := price.NotionalToCollateral(decimal.NewAmount[decimal.NotionalTag](notionalDelta.Abs().Dec()), pp)
	deltaDec := deltaCollateralAbs.Dec()
	if notionalDelta.IsNegative() {
		deltaDec = deltaDec.Neg()
	}
	delta := decimal.NewSigned[decimal.CollateralTag](deltaDec)
	return fees.DeltaNeutralityFee(netOi, delta, m.Cfg.DeltaNeutralityFeeSensitivity, m.Cfg.DeltaNeutralityFeeCap), nil
}

// PriceWouldTrigger backs PriceWouldTrigger: whether moving
// from the current spot to candidate would hit posId's stop-loss or
// take-profit, without actually settling anything — the same check
// liquifunding.Settle and crank.Engine's liquifunding branch run
// internally, exposed read-only for client-side order-book display.
func (m *Market) PriceWouldTrigger(posId market.PositionId, candidate sdkmath.LegacyDec) (position.CloseReason, bool, error) {
	pos, err := m.Positions.Get(posId)
	if err != nil {
		return 0, false, err
	}
	pp, err := m.Prices.Spot(nil)
	if err != nil {
		return 0, false, err
	}
	reason, hit := position.TriggerHit(pos, pp.PriceBase, candidate)
	return reason, hit, nil
}

// ListDeferredExecs backs ListDeferredExecs, paginating the
// full queue regardless of owner — the crank operator's view, as
// opposed to a single trader's pending messages.
func (m *Market) ListDeferredExecs(startAfter *market.DeferredExecId, limit int) ([]deferred.Item, *market.DeferredExecId, error) {
	return m.Deferred.List(startAfter, limit)
}

// GetDeferredExec backs GetDeferredExec: the status of one
// previously-submitted message, so a client can poll until its own
// enqueued action executes or fails.
func (m *Market) GetDeferredExec(id market.DeferredExecId) (deferred.Item, error) {
	return m.Deferred.Get(id)
}

// FundingRates backs the funding-rate half of Status's companion
// query set: the long/short annualized rates the crank's
// liquifunding branch would apply right now, derived from the live
// open-interest split.
func (m *Market) FundingRates() (fees.FundingRates, error) {
	st, err := m.Liquifund.Get()
	if err != nil {
		return fees.FundingRates{}, err
	}
	return fees.ComputeFundingRates(
		st.LongNotional.Dec(), st.ShortNotional.Dec(),
		m.Cfg.FundingRateSensitivity, m.Cfg.FundingRateMaxAnnualized,
		m.Cfg.DeltaNeutralityFeeSensitivity, m.Cfg.DeltaNeutralityFeeCap,
	), nil
}

// SmoothedFundingRates backs a trader-facing estimator query: rather
// than FundingRates' exact instantaneous rate, this EMA-smooths the
// last `period` crank steps' recorded rates so a single noisy step
// doesn't dominate an at-a-glance estimate. Never used by settlement.
func (m *Market) SmoothedFundingRates(period int) (fees.FundingRates, error) {
	long, short, err := m.Liquifund.SmoothedRates(period)
	if err != nil {
		return fees.FundingRates{}, err
	}
	return fees.FundingRates{LongRate: long, ShortRate: short}, nil
}

// BorrowRate backs the borrow-rate half of the same companion query
// set, derived from the live liquidity pool split.
func (m *Market) BorrowRate() (sdkmath.LegacyDec, error) {
	pool, err := m.Liquidity.Pool()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fees.BorrowRate(pool.Locked, pool.Unlocked, m.Cfg.BorrowFeeRateMinAnnualized, m.Cfg.BorrowFeeRateMaxAnnualized), nil
}
