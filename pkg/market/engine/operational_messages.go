package engine

import (
	"sync"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// ManualComposer implements price.Composer for a manually-priced
// market: manual markets accept SetManualPrice instead of
// an oracle feed, and Compose simply replays the last value SetPrice
// recorded, so price.Feed.Append's normal append-only persistence
// requires no oracle-specific code path.
type ManualComposer struct {
	mu    sync.Mutex
	point price.Point
	set   bool
}

func (c *ManualComposer) SetPrice(p price.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.point = p
	c.set = true
}

func (c *ManualComposer) Compose() (price.Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return price.Point{}, merrors.ErrPriceNotFound
	}
	return c.point, nil
}

var _ price.Composer = (*ManualComposer)(nil)

// SetManualPrice backs SetManualPrice (manual markets only): records
// priceBase/priceUsd and appends the resulting composed point
// to the feed immediately, rather than waiting for the next crank
// step to pull it, since a manual market has no other trigger to do so.
func (m *Market) SetManualPrice(caller string, composer *ManualComposer, priceUsd, priceBase, priceNotional decimal.Collateral) (price.Point, error) {
	if !m.ManualMode {
		return price.Point{}, merrors.ErrAuth
	}
	if err := m.Roles.assertOwner(caller); err != nil {
		return price.Point{}, err
	}
	now := mtime.Now()
	composer.SetPrice(price.Point{
		Timestamp:      now,
		PriceNotional:  priceNotional.Dec(),
		PriceUsd:       priceUsd.Dec(),
		PriceBase:      priceBase.Dec(),
		PublishTime:    now,
		PublishTimeUsd: now,
	})
	return m.Prices.Append(now)
}

// SetPaused toggles the kill-switch gate that OpenPosition and
// PlaceLimitOrder check: the kill-switch is modeled here as a gate on
// entry points, not a full contract-migration state machine. The
// other entry points (position updates, closes, cancels, liquidity
// messages, Crank) do not consult it.
func (m *Market) SetPaused(caller string, paused bool) error {
	if err := m.Roles.assertKillSwitch(caller); err != nil {
		return err
	}
	m.Paused = paused
	return nil
}

// ProvideCrankFunds tops up the caller-funded crank reward reserve
// Any address may call it — it is a voluntary top-up, not
// a privileged action, matching original_source/contract.rs's
// dispatch showing ProvideCrankFunds taking arbitrary sent funds with
// no AuthCheck. The accounting here (a flat reserve counter drawn down
// per paid-out reward) has no surviving original function body to
// ground against (see DESIGN.md); it mirrors the single-counter idiom
// pkg/market/liquifunding's Store already uses for its State.
func (m *Market) ProvideCrankFunds(amount decimal.Collateral) error {
	if !amount.IsPositive() {
		return merrors.ErrPositionUpdate
	}
	t, err := getTreasury(m.kv)
	if err != nil {
		return err
	}
	t.CrankFunds = t.CrankFunds.Add(amount)
	return saveTreasury(m.kv, t)
}

// TransferDaoFees sweeps the accrued DAO fee balance, zeroing it, for
// dao (or owner) to actually move off-engine. Grounded in
// original_source/contract.rs's dispatch for TransferDaoFees, which
// calls state.transfer_fees_to_dao; that function's body was not
// retrievable from the filtered source, so the sweep-then-zero shape
// here is designed from scratch rather than ported (see DESIGN.md).
func (m *Market) TransferDaoFees(caller string) (decimal.Collateral, error) {
	if err := m.Roles.assertDao(caller); err != nil {
		return decimal.Collateral{}, err
	}
	t, err := getTreasury(m.kv)
	if err != nil {
		return decimal.Collateral{}, err
	}
	swept := t.DaoFees
	t.DaoFees = decimal.Zero[decimal.CollateralTag]()
	if err := saveTreasury(m.kv, t); err != nil {
		return decimal.Collateral{}, err
	}
	return swept, nil
}

// CloseAllPositions force-closes every open position at the latest
// price, restricted to the wind-down role — wind-down only — grounded
// in original_source/contract.rs's
// `AuthCheck::WindDown` guard on the same message.
func (m *Market) CloseAllPositions(caller string) (int, error) {
	if err := m.Roles.assertWindDown(caller); err != nil {
		return 0, err
	}
	pp, err := m.Prices.Spot(nil)
	if err != nil {
		return 0, err
	}

	var ids []market.PositionId
	err = m.Positions.ScanOpen(func(p position.Position) bool {
		ids = append(ids, p.Id)
		return true
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		pos, err := m.Positions.Get(id)
		if err != nil {
			return closed, err
		}
		cp, err := position.Close(m.Positions, m.Liquidity, pos, pp, position.CloseDirect)
		if err != nil {
			return closed, err
		}
		if err := m.Liquifund.AdjustOpenInterest(cp.Position.NotionalSize.Negate()); err != nil {
			return closed, err
		}
		if _, err := m.recordHistory(history.TraderAction, history.Entry{
			Owner:     cp.Position.Owner,
			Kind:      "close_all_positions",
			Timestamp: pp.Timestamp,
			Amounts:   map[string]string{"position_id": idString(cp.Position.Id), "payout": cp.Payout.String()},
		}); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

