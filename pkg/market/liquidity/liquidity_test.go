package liquidity

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := store.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func collateral(t *testing.T, s string) decimal.Collateral {
	t.Helper()
	a, err := decimal.ParseAmount[decimal.CollateralTag](s)
	require.NoError(t, err)
	return a
}

func lpToken(t *testing.T, s string) decimal.LpToken {
	t.Helper()
	a, err := decimal.ParseAmount[decimal.LpTokenTag](s)
	require.NoError(t, err)
	return a
}

func TestDepositAndSharePrice(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()

	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), false, now))

	pool, err := s.Pool()
	require.NoError(t, err)
	require.True(t, pool.SharePrice().Equal(sdkmath.LegacyOneDec()))

	// Fees land in Unlocked without minting new LP, so share price rises.
	pool.Unlocked = pool.Unlocked.Add(collateral(t, "10"))
	require.NoError(t, s.savePool(pool))

	pool, err = s.Pool()
	require.NoError(t, err)
	require.True(t, pool.SharePrice().Equal(sdkmath.LegacyMustNewDecFromStr("1.1")))
}

func TestWithdrawAtSharePrice(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), false, now))

	pool, err := s.Pool()
	require.NoError(t, err)
	pool.Unlocked = pool.Unlocked.Add(collateral(t, "10"))
	require.NoError(t, s.savePool(pool))

	payout, err := s.Withdraw("alice", lpToken(t, "50"), now)
	require.NoError(t, err)
	require.True(t, payout.Dec().Equal(sdkmath.LegacyMustNewDecFromStr("55")))

	prov, err := s.Provider("alice")
	require.NoError(t, err)
	require.True(t, prov.Lp.Dec().Equal(sdkmath.LegacyMustNewDecFromStr("50")))
}

func TestWithdrawInsufficientShares(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), false, now))

	_, err := s.Withdraw("alice", lpToken(t, "200"), now)
	require.Error(t, err)
}

func TestStakeLpHarvestsPendingYieldOnRestake(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()

	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), true, now))

	// Accrue yield once while alice already holds xLP.
	require.NoError(t, s.AccrueXlpYield(collateral(t, "10")))

	claimed, err := s.ClaimYield("alice")
	require.NoError(t, err)
	require.True(t, claimed.Dec().Equal(sdkmath.LegacyNewDec(10)))

	// A second claim with no new accrual pays nothing.
	claimed, err = s.ClaimYield("alice")
	require.NoError(t, err)
	require.True(t, claimed.IsZero())

	// Accrue again, then stake more LP: the pending yield on the
	// pre-stake xLP balance must be harvested and returned, not lost.
	require.NoError(t, s.Deposit("alice", collateral(t, "50"), lpToken(t, "50"), false, now))
	require.NoError(t, s.AccrueXlpYield(collateral(t, "20")))

	harvested, err := s.StakeLp("alice", lpToken(t, "50"))
	require.NoError(t, err)
	require.True(t, harvested.Dec().Equal(sdkmath.LegacyNewDec(20)))

	// Debt now reflects the post-stake balance; an immediate claim pays nothing.
	claimed, err = s.ClaimYield("alice")
	require.NoError(t, err)
	require.True(t, claimed.IsZero())
}

func TestUnstakeXlpHarvestsBeforeReducingBalance(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), true, now))
	require.NoError(t, s.AccrueXlpYield(collateral(t, "10")))

	harvested, err := s.UnstakeXlp("alice", lpToken(t, "40"), now, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, harvested.Dec().Equal(sdkmath.LegacyNewDec(10)))

	prov, err := s.Provider("alice")
	require.NoError(t, err)
	require.True(t, prov.Xlp.Dec().Equal(sdkmath.LegacyNewDec(60)))
	require.True(t, prov.Unstake.Pending.Dec().Equal(sdkmath.LegacyNewDec(40)))

	// No further accrual: a later claim pays nothing, confirming the
	// harvested amount wasn't left owed twice.
	claimed, err := s.ClaimYield("alice")
	require.NoError(t, err)
	require.True(t, claimed.IsZero())
}

func TestCollectUnstakedLpWaitsForRelease(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), true, now))

	_, err := s.UnstakeXlp("alice", lpToken(t, "30"), now, time.Hour)
	require.NoError(t, err)

	released, err := s.CollectUnstakedLp("alice", now)
	require.NoError(t, err)
	require.True(t, released.IsZero())

	released, err = s.CollectUnstakedLp("alice", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, released.Dec().Equal(sdkmath.LegacyNewDec(30)))

	prov, err := s.Provider("alice")
	require.NoError(t, err)
	require.True(t, prov.Lp.Dec().Equal(sdkmath.LegacyNewDec(30)))

	pool, err := s.Pool()
	require.NoError(t, err)
	require.True(t, pool.TotalXlp.Dec().Equal(sdkmath.LegacyNewDec(70)))
	require.True(t, pool.TotalLp.Dec().Equal(sdkmath.LegacyNewDec(30)))
}

func TestStopUnstakingXlpRestoresPendingAndHarvests(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), true, now))

	_, err := s.UnstakeXlp("alice", lpToken(t, "20"), now, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.AccrueXlpYield(collateral(t, "8")))

	harvested, err := s.StopUnstakingXlp("alice")
	require.NoError(t, err)
	require.True(t, harvested.Dec().Equal(sdkmath.LegacyNewDec(8)))

	prov, err := s.Provider("alice")
	require.NoError(t, err)
	require.True(t, prov.Xlp.Dec().Equal(sdkmath.LegacyNewDec(100)))
	require.True(t, prov.Unstake.Pending.IsZero())
}

func TestAccrueXlpYieldCreditsUnlockedEvenWithoutXlpHolders(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AccrueXlpYield(collateral(t, "5")))

	pool, err := s.Pool()
	require.NoError(t, err)
	require.True(t, pool.AccXlpYieldPerShare.IsZero())
	require.True(t, pool.Unlocked.Dec().Equal(sdkmath.LegacyNewDec(5)))
}

func TestCreditDnfSplitBooksBothHalves(t *testing.T) {
	s := newTestStore(t)

	protocol, fund := fees.DnfSplit(decimal.NewSigned[decimal.CollateralTag](sdkmath.LegacyNewDec(10)), sdkmath.LegacyMustNewDecFromStr("0.1"))
	require.NoError(t, s.CreditDnfSplit(protocol, fund))

	pool, err := s.Pool()
	require.NoError(t, err)
	require.True(t, pool.ProtocolFees.Dec().Equal(sdkmath.LegacyNewDec(1)))
	require.True(t, pool.DnfFund.Dec().Equal(sdkmath.LegacyNewDec(9)))
	require.True(t, pool.Unlocked.IsZero())

	// A later negative fee (fund pays the trader back) nets the fund
	// down without touching the protocol's prior cut.
	protocol2, fund2 := fees.DnfSplit(decimal.NewSigned[decimal.CollateralTag](sdkmath.LegacyNewDec(-4)), sdkmath.LegacyMustNewDecFromStr("0.1"))
	require.NoError(t, s.CreditDnfSplit(protocol2, fund2))

	pool, err = s.Pool()
	require.NoError(t, err)
	require.True(t, pool.ProtocolFees.Dec().Equal(sdkmath.LegacyMustNewDecFromStr("0.6")))
	require.True(t, pool.DnfFund.Dec().Equal(sdkmath.LegacyMustNewDecFromStr("5.4")))
}

func TestCooldownGate(t *testing.T) {
	s := newTestStore(t)
	now := mtime.Now()
	require.NoError(t, s.Deposit("alice", collateral(t, "100"), lpToken(t, "100"), false, now))

	err := s.AssertCooldownElapsed("alice", now.Add(time.Minute), time.Hour)
	require.ErrorIs(t, err, merrors.ErrLiquidityCooldown)

	require.NoError(t, s.AssertCooldownElapsed("alice", now.Add(2*time.Hour), time.Hour))
}
