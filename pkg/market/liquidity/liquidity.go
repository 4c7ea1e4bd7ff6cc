// Package liquidity implements the Liquidity pool component:
// per-market aggregates (total_lp, total_xlp, unlocked,
// locked) and per-provider balances with an unstaking schedule and a
// deposit cooldown gate.
//
// Grounded in pkg/contracts/levana/market/types.go's Liquidity struct
// shape (Locked, Unlocked, TotalLP, TotalXLP).
package liquidity

import (
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Pool is the market-wide liquidity aggregate.
type Pool struct {
	TotalLp  decimal.LpToken
	TotalXlp decimal.LpToken
	Unlocked decimal.Collateral
	Locked   decimal.Collateral

	// AccXlpYieldPerShare is a cumulative reward-per-share accumulator
	// (collateral owed per one xLP token), the same O(1)-settlement
	// shape liquifunding.State uses for funding: each provider
	// remembers the accumulator's value as of its last claim in
	// Provider.XlpYieldDebt (ordinary Lp holders earn passively via
	// rising share price instead, so only xLP needs an explicit claim).
	AccXlpYieldPerShare sdkmath.LegacyDec

	// ProtocolFees is the running, unswept balance of the protocol's
	// tax cut of the delta-neutrality fee. It never touches Unlocked:
	// it isn't LP capital, just a ledger entry for whatever downstream
	// sweep eventually pays it out to the protocol treasury.
	ProtocolFees decimal.Signed[decimal.CollateralTag]

	// DnfFund is the delta-neutrality fee fund's running balance: the
	// non-tax remainder of every delta-neutrality fee flows in here,
	// and the fund pays back out whenever a position's own DNF comes
	// out negative. It can go negative itself when payouts have
	// outrun collections.
	DnfFund decimal.Signed[decimal.CollateralTag]
}

// UnstakeSchedule tracks an xLP holder's conversion back to LP over
// an unstake period.
type UnstakeSchedule struct {
	Collected decimal.LpToken
	Available decimal.LpToken
	Pending   decimal.LpToken
	ReleaseAt mtime.Timestamp
}

// Provider is a per-LP-wallet balance record.
type Provider struct {
	Lp            decimal.LpToken
	Xlp           decimal.LpToken
	Unstake       UnstakeSchedule
	LastDepositAt mtime.Timestamp
	XlpYieldDebt  sdkmath.LegacyDec
}

const (
	poolKey         = "liquidity/pool"
	providerKeyPref = "liquidity/provider/"
)

// Store wraps the KV layer with typed liquidity collections.
type Store struct {
	kv store.KV
}

func New(kv store.KV) *Store { return &Store{kv: kv} }

func providerKey(owner string) []byte {
	return append([]byte(providerKeyPref), []byte(owner)...)
}

func (s *Store) Pool() (Pool, error) {
	raw, err := s.kv.Get([]byte(poolKey))
	if err != nil {
		if err == store.ErrNotFound {
			return Pool{TotalLp: decimal.Zero[decimal.LpTokenTag](), TotalXlp: decimal.Zero[decimal.LpTokenTag](),
				Unlocked: decimal.Zero[decimal.CollateralTag](), Locked: decimal.Zero[decimal.CollateralTag](),
				AccXlpYieldPerShare: sdkmath.LegacyZeroDec(),
				ProtocolFees:        decimal.SignedZero[decimal.CollateralTag](),
				DnfFund:             decimal.SignedZero[decimal.CollateralTag]()}, nil
		}
		return Pool{}, err
	}
	var p Pool
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pool{}, err
	}
	return p, nil
}

func (s *Store) savePool(p Pool) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set([]byte(poolKey), raw)
}

func (s *Store) Provider(owner string) (Provider, error) {
	raw, err := s.kv.Get(providerKey(owner))
	if err != nil {
		if err == store.ErrNotFound {
			return Provider{Lp: decimal.Zero[decimal.LpTokenTag](), Xlp: decimal.Zero[decimal.LpTokenTag]()}, nil
		}
		return Provider{}, err
	}
	var p Provider
	if err := json.Unmarshal(raw, &p); err != nil {
		return Provider{}, err
	}
	return p, nil
}

func (s *Store) saveProvider(owner string, p Provider) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set(providerKey(owner), raw)
}

// Lock moves amt from unlocked to locked atomically with a position
// open: counter-collateral must move between unlocked and locked
// atomically with position open/close.
func (s *Store) Lock(amt decimal.Collateral) error {
	p, err := s.Pool()
	if err != nil {
		return err
	}
	unlocked, err := p.Unlocked.Sub(amt)
	if err != nil {
		return merrors.ErrInsufficientMargin
	}
	p.Unlocked = unlocked
	p.Locked = p.Locked.Add(amt)
	return s.savePool(p)
}

// Unlock moves amt from locked back to unlocked, atomically with a
// position close.
func (s *Store) Unlock(amt decimal.Collateral) error {
	p, err := s.Pool()
	if err != nil {
		return err
	}
	locked, err := p.Locked.Sub(amt)
	if err != nil {
		return err
	}
	p.Locked = locked
	p.Unlocked = p.Unlocked.Add(amt)
	return s.savePool(p)
}

// Deposit records a new LP deposit, optionally staked directly to
// xLP, resetting the cooldown clock.
func (s *Store) Deposit(owner string, amt decimal.Collateral, shares decimal.LpToken, stakeToXlp bool, now mtime.Timestamp) error {
	pool, err := s.Pool()
	if err != nil {
		return err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return err
	}

	if stakeToXlp {
		prov.Xlp = prov.Xlp.Add(shares)
		pool.TotalXlp = pool.TotalXlp.Add(shares)
	} else {
		prov.Lp = prov.Lp.Add(shares)
		pool.TotalLp = pool.TotalLp.Add(shares)
	}
	pool.Unlocked = pool.Unlocked.Add(amt)
	prov.LastDepositAt = now

	if err := s.savePool(pool); err != nil {
		return err
	}
	return s.saveProvider(owner, prov)
}

// AssertCooldownElapsed enforces the deposit cooldown: any
// transfer or withdrawal within cooldown of the last deposit is
// rejected.
func (s *Store) AssertCooldownElapsed(owner string, now mtime.Timestamp, cooldown time.Duration) error {
	prov, err := s.Provider(owner)
	if err != nil {
		return err
	}
	if now.Sub(prov.LastDepositAt) < cooldown {
		return merrors.ErrLiquidityCooldown
	}
	return nil
}

// SharePrice is the collateral value of one LP token: ordinary LP
// holders earn passively as fees accrue to Unlocked and this ratio
// rises, rather than through an explicit claim.
func (p Pool) SharePrice() sdkmath.LegacyDec {
	if p.TotalLp.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return p.Unlocked.Add(p.Locked).Dec().Quo(p.TotalLp.Dec())
}

// Withdraw burns lpShares at the current share price and pays out the
// corresponding collateral from Unlocked. Fails if the
// pool doesn't have enough free collateral to cover the payout (all
// of it is locked as counter-collateral against open positions).
func (s *Store) Withdraw(owner string, lpShares decimal.LpToken, now mtime.Timestamp) (decimal.Collateral, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.Collateral{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.Collateral{}, err
	}
	remainingLp, err := prov.Lp.Sub(lpShares)
	if err != nil {
		return decimal.Collateral{}, merrors.ErrInsufficientMargin
	}

	payout := decimal.NewAmount[decimal.CollateralTag](lpShares.Dec().Mul(pool.SharePrice()))
	unlocked, err := pool.Unlocked.Sub(payout)
	if err != nil {
		return decimal.Collateral{}, merrors.ErrInsufficientMargin
	}

	prov.Lp = remainingLp
	pool.TotalLp, err = pool.TotalLp.Sub(lpShares)
	if err != nil {
		return decimal.Collateral{}, err
	}
	pool.Unlocked = unlocked

	if err := s.savePool(pool); err != nil {
		return decimal.Collateral{}, err
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.Collateral{}, err
	}
	return payout, nil
}

// AccrueXlpYield books amt of fee-derived collateral into the pool:
// it always lands in Unlocked, where it raises the LP share price for
// every plain LP holder, and it also rolls into the xLP
// reward-per-share accumulator when there are xLP holders to claim
// it. Callers (trading and borrow fee call sites) route their entire
// collected fee through here rather than touching Unlocked directly,
// so the LP/xLP split stays in one place.
func (s *Store) AccrueXlpYield(amt decimal.Collateral) error {
	pool, err := s.Pool()
	if err != nil {
		return err
	}
	if !pool.TotalXlp.IsZero() {
		pool.AccXlpYieldPerShare = pool.AccXlpYieldPerShare.Add(amt.Dec().Quo(pool.TotalXlp.Dec()))
	}
	pool.Unlocked = pool.Unlocked.Add(amt)
	return s.savePool(pool)
}

// CreditDnfSplit books a computed delta-neutrality fee into its two
// destinations: the protocol's tax cut, and the remainder into the
// DNF fund that pays rebates back out on the other side. Unlike
// AccrueXlpYield, neither half touches Unlocked — this fee is not LP
// revenue.
func (s *Store) CreditDnfSplit(protocol, fund decimal.Signed[decimal.CollateralTag]) error {
	pool, err := s.Pool()
	if err != nil {
		return err
	}
	pool.ProtocolFees = pool.ProtocolFees.Add(protocol)
	pool.DnfFund = pool.DnfFund.Add(fund)
	return s.savePool(pool)
}

// harvestXlpYield computes owner's accrued-but-unclaimed xLP yield
// using the MasterChef-style absolute-debt accumulator (XlpYieldDebt
// is "balance * accumulator" as of the last checkpoint, so it stays
// correct across any balance change, not just across claims) and
// resets the debt to the balance's current value. Every call site
// that changes prov.Xlp must harvest immediately before the change,
// or the pre-change balance's pending accrual would be silently lost.
func harvestXlpYield(pool Pool, prov Provider) (decimal.Collateral, Provider) {
	owed := prov.Xlp.Dec().Mul(pool.AccXlpYieldPerShare).Sub(prov.XlpYieldDebt)
	if owed.IsNegative() {
		owed = sdkmath.LegacyZeroDec()
	}
	prov.XlpYieldDebt = prov.Xlp.Dec().Mul(pool.AccXlpYieldPerShare)
	return decimal.NewAmount[decimal.CollateralTag](owed), prov
}

// ClaimYield pays owner their accrued xLP reward share since the last
// balance change or claim.
func (s *Store) ClaimYield(owner string) (decimal.Collateral, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.Collateral{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.Collateral{}, err
	}

	payout, prov := harvestXlpYield(pool, prov)

	unlocked, err := pool.Unlocked.Sub(payout)
	if err != nil {
		return decimal.Collateral{}, merrors.ErrInsufficientMargin
	}
	pool.Unlocked = unlocked

	if err := s.savePool(pool); err != nil {
		return decimal.Collateral{}, err
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.Collateral{}, err
	}
	return payout, nil
}

// StakeLp converts amt of owner's plain LP into xLP 1:1, harvesting
// any yield already owed on the provider's pre-stake xLP balance
// first so it isn't lost when the debt checkpoint resets.
func (s *Store) StakeLp(owner string, amt decimal.LpToken) (decimal.Collateral, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.Collateral{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.Collateral{}, err
	}
	remaining, err := prov.Lp.Sub(amt)
	if err != nil {
		return decimal.Collateral{}, merrors.ErrInsufficientMargin
	}

	harvested, prov := harvestXlpYield(pool, prov)

	prov.Lp = remaining
	prov.Xlp = prov.Xlp.Add(amt)
	prov.XlpYieldDebt = prov.Xlp.Dec().Mul(pool.AccXlpYieldPerShare)
	pool.TotalLp, err = pool.TotalLp.Sub(amt)
	if err != nil {
		return decimal.Collateral{}, err
	}
	pool.TotalXlp = pool.TotalXlp.Add(amt)

	if !harvested.IsZero() {
		unlocked, err := pool.Unlocked.Sub(harvested)
		if err != nil {
			return decimal.Collateral{}, merrors.ErrInsufficientMargin
		}
		pool.Unlocked = unlocked
	}

	if err := s.savePool(pool); err != nil {
		return decimal.Collateral{}, err
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.Collateral{}, err
	}
	return harvested, nil
}

// UnstakeXlp begins converting amt of owner's xLP back to LP over the
// configured unstake period, harvesting any owed yield on the
// pre-unstake balance first. A
// second call before the schedule completes replaces the pending
// amount and resets the release clock, mirroring a simple
// single-outstanding-schedule model.
func (s *Store) UnstakeXlp(owner string, amt decimal.LpToken, now mtime.Timestamp, period time.Duration) (decimal.Collateral, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.Collateral{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.Collateral{}, err
	}
	remaining, err := prov.Xlp.Sub(amt)
	if err != nil {
		return decimal.Collateral{}, merrors.ErrInsufficientMargin
	}

	harvested, prov := harvestXlpYield(pool, prov)

	prov.Xlp = remaining
	prov.XlpYieldDebt = prov.Xlp.Dec().Mul(pool.AccXlpYieldPerShare)
	prov.Unstake.Pending = prov.Unstake.Pending.Add(amt)
	prov.Unstake.ReleaseAt = now.Add(period)

	if !harvested.IsZero() {
		unlocked, err := pool.Unlocked.Sub(harvested)
		if err != nil {
			return decimal.Collateral{}, merrors.ErrInsufficientMargin
		}
		pool.Unlocked = unlocked
		if err := s.savePool(pool); err != nil {
			return decimal.Collateral{}, err
		}
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.Collateral{}, err
	}
	return harvested, nil
}

// StopUnstakingXlp cancels a pending unstake and restores the tokens
// to xLP, harvesting first for the same reason UnstakeXlp does.
func (s *Store) StopUnstakingXlp(owner string) (decimal.Collateral, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.Collateral{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.Collateral{}, err
	}

	harvested, prov := harvestXlpYield(pool, prov)

	prov.Xlp = prov.Xlp.Add(prov.Unstake.Pending)
	prov.Unstake.Pending = decimal.Zero[decimal.LpTokenTag]()
	prov.XlpYieldDebt = prov.Xlp.Dec().Mul(pool.AccXlpYieldPerShare)

	if !harvested.IsZero() {
		unlocked, err := pool.Unlocked.Sub(harvested)
		if err != nil {
			return decimal.Collateral{}, merrors.ErrInsufficientMargin
		}
		pool.Unlocked = unlocked
		if err := s.savePool(pool); err != nil {
			return decimal.Collateral{}, err
		}
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.Collateral{}, err
	}
	return harvested, nil
}

// CollectUnstakedLp finalizes a completed unstake schedule, converting
// the pending amount into plain LP once its release time has passed.
func (s *Store) CollectUnstakedLp(owner string, now mtime.Timestamp) (decimal.LpToken, error) {
	pool, err := s.Pool()
	if err != nil {
		return decimal.LpToken{}, err
	}
	prov, err := s.Provider(owner)
	if err != nil {
		return decimal.LpToken{}, err
	}
	if prov.Unstake.Pending.IsZero() || now.Before(prov.Unstake.ReleaseAt) {
		return decimal.Zero[decimal.LpTokenTag](), nil
	}

	released := prov.Unstake.Pending
	prov.Lp = prov.Lp.Add(released)
	prov.Unstake.Pending = decimal.Zero[decimal.LpTokenTag]()
	pool.TotalLp = pool.TotalLp.Add(released)
	pool.TotalXlp, err = pool.TotalXlp.Sub(released)
	if err != nil {
		return decimal.LpToken{}, err
	}

	if err := s.savePool(pool); err != nil {
		return decimal.LpToken{}, err
	}
	if err := s.saveProvider(owner, prov); err != nil {
		return decimal.LpToken{}, err
	}
	return released, nil
}
