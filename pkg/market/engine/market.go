package engine

import (
	"context"
	"encoding/json"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/historydb"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/crank"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/liquifunding"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/order"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
	"github.com/levana-engine/perpcore/pkg/retry"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Treasury is the small additional KV-backed state ProvideCrankFunds
// and TransferDaoFees need beyond the named collections: a
// caller-funded crank reward reserve, an accrued,
// not-yet-swept DAO fee balance, and rewards credited to crank callers
// but not yet paid out. Grounded in the same single-key
// get/save idiom liquifunding.Store uses for its State; no original
// function body for this accounting survived the distillation (see
// DESIGN.md), so the shape here is designed from scratch.
type Treasury struct {
	CrankFunds  decimal.Collateral
	DaoFees     decimal.Collateral
	RewardsOwed map[string]decimal.Collateral
}

const treasuryKey = "engine/treasury"

func getTreasury(kv store.KV) (Treasury, error) {
	raw, err := kv.Get([]byte(treasuryKey))
	if err != nil {
		if err == store.ErrNotFound {
			return Treasury{
				CrankFunds:  decimal.Zero[decimal.CollateralTag](),
				DaoFees:     decimal.Zero[decimal.CollateralTag](),
				RewardsOwed: map[string]decimal.Collateral{},
			}, nil
		}
		return Treasury{}, err
	}
	var t Treasury
	if err := json.Unmarshal(raw, &t); err != nil {
		return Treasury{}, err
	}
	if t.RewardsOwed == nil {
		t.RewardsOwed = map[string]decimal.Collateral{}
	}
	return t, nil
}

func saveTreasury(kv store.KV, t Treasury) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return kv.Set([]byte(treasuryKey), raw)
}

// Market bundles every per-market component and implements
// crank.Executor/crank.OrderExecutor so a single Step call can both
// pick the next unit of work and run it.
type Market struct {
	mu sync.Mutex

	Ident market.Ident
	Cfg   market.Config
	Roles Roles

	// ManualMode gates SetManualPrice: only manual markets accept it.
	ManualMode bool
	Paused     bool

	// HistoryDB, if set, receives a synchronous read-model projection
	// of every history.Entry appended through recordHistory, backing
	// trade/LP history queries. A market with no Postgres DSN
	// configured leaves this nil and relies solely on the KV history
	// log the rest of the engine already reads from.
	HistoryDB *historydb.DB
	// Logger receives projection/crank-reward diagnostics; defaults to
	// a no-op logger so a zero-value Market never nil-derefs.
	Logger *zap.Logger

	kv store.KV

	Positions *position.Store
	Orders    *order.Store
	Deferred  *deferred.Store
	Liquidity *liquidity.Store
	Liquifund *liquifunding.Store
	History   *history.Store
	Prices    *price.Feed
}

// New constructs a Market over one market's collections, all sharing
// kv: one key-value store, one collection per named prefix.
func New(kv store.KV, ident market.Ident, cfg market.Config, roles Roles, composer price.Composer) *Market {
	return &Market{
		Ident:     ident,
		Cfg:       cfg,
		Roles:     roles,
		Logger:    zap.NewNop(),
		kv:        kv,
		Positions: position.New(kv),
		Orders:    order.New(kv, ident),
		Deferred:  deferred.New(kv),
		Liquidity: liquidity.New(kv),
		Liquifund: liquifunding.New(kv),
		History:   history.New(kv),
		Prices:    price.New(kv, composer),
	}
}

// recordHistory appends entry to the KV history log (the source of
// truth every other query reads from) and, if HistoryDB is set,
// projects it into the Postgres read model with a bounded retry
// A projection failure after retries is logged but not
// returned: the KV append already succeeded, so settlement must not
// roll back over a read-model write that can be backfilled later.
func (m *Market) recordHistory(cat history.Category, entry history.Entry) (history.Entry, error) {
	saved, err := m.History.Append(cat, entry)
	if err != nil {
		return saved, err
	}
	if m.HistoryDB == nil {
		return saved, nil
	}
	operation := func() error {
		return m.HistoryDB.Project(cat, saved)
	}
	if err := backoff.Retry(operation, retry.NewHistoryWriteBackoff(context.Background())); err != nil {
		m.logger().Warn("history projection failed", zap.String("category", string(cat)), zap.Error(err))
	}
	return saved, nil
}

func (m *Market) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

var _ crank.Executor = (*Market)(nil)
var _ crank.OrderExecutor = (*Market)(nil)

// netOpenInterest returns long-minus-short open interest in collateral
// terms, the DeltaNeutralityFee input.
func (m *Market) netOpenInterest(pp price.Point) (decimal.Signed[decimal.CollateralTag], error) {
	st, err := m.Liquifund.Get()
	if err != nil {
		return decimal.Signed[decimal.CollateralTag]{}, err
	}
	longC := price.NotionalToCollateral(st.LongNotional, pp)
	shortC := price.NotionalToCollateral(st.ShortNotional, pp)
	return decimal.NewSigned[decimal.CollateralTag](longC.Dec().Sub(shortC.Dec())), nil
}

// Crank runs up to execs crank.Engine.Step calls (cfg.CrankExecs if
// execs is 0), routing crank.Engine.Step's crank-fee reward handling
// through rewards, and returns every step's report.
func (m *Market) Crank(now mtime.Timestamp, execs uint32, rewards string) ([]crank.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if execs == 0 {
		execs = m.Cfg.CrankExecs
	}
	if execs == 0 {
		execs = 1
	}

	eng := &crank.Engine{
		Cfg:       m.Cfg,
		Positions: m.Positions,
		Orders:    m.Orders,
		Deferred:  m.Deferred,
		Liquidity: m.Liquidity,
		Liquifund: m.Liquifund,
		Prices:    m.Prices,
		Executor:  m,
		OrderExec: m,
	}

	reports := make([]crank.Report, 0, execs)
	for i := uint32(0); i < execs; i++ {
		report, err := eng.Step(now, rewards)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
		if report.Branch == crank.BranchIdle {
			break
		}
		if report.Branch == crank.BranchDeferred && report.DeferredOk && rewards != "" {
			if err := m.payCrankReward(report.DeferredId, rewards); err != nil {
				return reports, err
			}
		}
	}
	return reports, nil
}

// payCrankReward credits rewards with the item's own crank_fee_reward
// share, debiting the caller-funded crank reserve: crank
// rewards go to the rewards address supplied by the caller. Reward
// payouts are not wired to a real token transfer in this engine (no
// bank module); they accumulate in Treasury.RewardsOwed as a ledger a
// future payout sweep would drain. Silently no-ops if the reserve
// can't cover it, since an empty reserve must not block settlement
// from making progress.
func (m *Market) payCrankReward(id market.DeferredExecId, rewards string) error {
	it, err := m.Deferred.Get(id)
	if err != nil {
		return err
	}
	if !it.CrankFee.IsPositive() {
		return nil
	}
	t, err := getTreasury(m.kv)
	if err != nil {
		return err
	}
	reward, _ := fees.SplitCrankFee(it.CrankFee, decimal.NewAmount[decimal.CollateralTag](m.Cfg.CrankFeeReward))
	remaining, err := t.CrankFunds.Sub(reward)
	if err != nil {
		return nil // reserve exhausted; reward simply isn't paid this step
	}
	t.CrankFunds = remaining
	owed, ok := t.RewardsOwed[rewards]
	if !ok {
		owed = decimal.Zero[decimal.CollateralTag]()
	}
	t.RewardsOwed[rewards] = owed.Add(reward)
	return saveTreasury(m.kv, t)
}

// Execute implements crank.Executor: decode it.Params per Kind and
// run the corresponding structural change against the now-fresh price
// point pp.
func (m *Market) Execute(it deferred.Item, pp price.Point) error {
	switch it.Kind {
	case deferred.KindOpenPosition:
		return m.executeOpenPosition(it, pp)
	case deferred.KindUpdatePositionAddCollateralImpactLeverage:
		return m.executeUpdate(it, pp, func(a decimal.NonZero[decimal.CollateralTag]) position.Update {
			return position.AddCollateralImpactLeverage{Amount: a}
		})
	case deferred.KindUpdatePositionAddCollateralImpactSize:
		return m.executeUpdate(it, pp, func(a decimal.NonZero[decimal.CollateralTag]) position.Update {
			return position.AddCollateralImpactSize{Amount: a}
		})
	case deferred.KindUpdatePositionRemoveCollateralImpactLeverage:
		return m.executeUpdate(it, pp, func(a decimal.NonZero[decimal.CollateralTag]) position.Update {
			return position.RemoveCollateralImpactLeverage{Amount: a}
		})
	case deferred.KindUpdatePositionRemoveCollateralImpactSize:
		return m.executeUpdate(it, pp, func(a decimal.NonZero[decimal.CollateralTag]) position.Update {
			return position.RemoveCollateralImpactSize{Amount: a}
		})
	case deferred.KindUpdatePositionLeverage:
		return m.executeUpdateLeverage(it, pp)
	case deferred.KindSetTriggerOrder:
		return m.executeSetTriggerOrder(it, pp)
	case deferred.KindClosePosition:
		return m.executeClosePosition(it, pp)
	case deferred.KindPlaceLimitOrder:
		return m.executePlaceLimitOrder(it, pp)
	case deferred.KindCancelLimitOrder:
		return m.executeCancelLimitOrder(it, pp)
	default:
		return merrors.ErrInternalReply
	}
}

// ExecuteLimitOrder implements crank.OrderExecutor: opens a position
// from the triggered order's stored parameters and removes the order.
func (m *Market) ExecuteLimitOrder(o order.Order, pp price.Point) error {
	netOi, err := m.netOpenInterest(pp)
	if err != nil {
		return err
	}
	collateral, err := decimal.NewNonZero(o.Collateral)
	if err != nil {
		return err
	}
	pos, _, err := position.Open(m.Positions, m.Liquidity, m.Cfg, m.Ident, pp, netOi, position.OpenParams{
		Owner:      o.Owner,
		Collateral: collateral,
		Leverage:   o.Leverage,
		Dir:        o.Dir,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
	})
	if err != nil {
		// A crossed order that can no longer open (insufficient
		// margin, pool out of counter-collateral, stale leverage
		// bound) must still come off the by-price index — left in
		// place it would be rediscovered and fail identically on
		// every future crank step, permanently wedging branch 3.
		if rmErr := m.Orders.Remove(o); rmErr != nil {
			return rmErr
		}
		_, herr := m.recordHistory(history.LimitOrder, history.Entry{
			Owner:     o.Owner,
			Kind:      "limit_order_failed",
			Timestamp: pp.Timestamp,
			Amounts:   map[string]string{"order_id": idString(o.Id), "reason": err.Error()},
		})
		return herr
	}
	if err := m.Liquifund.AdjustOpenInterest(pos.NotionalSize); err != nil {
		return err
	}
	if err := m.Orders.Remove(o); err != nil {
		return err
	}
	_, err = m.recordHistory(history.LimitOrder, history.Entry{
		Owner:     o.Owner,
		Kind:      "trigger_limit_order",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"position_id": idString(pos.Id), "collateral": o.Collateral.String()},
	})
	return err
}

func idString(id market.Id) string {
	return sdkmath.NewIntFromUint64(uint64(id)).String()
}
