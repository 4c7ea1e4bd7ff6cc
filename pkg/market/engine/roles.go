package engine

import "github.com/levana-engine/perpcore/pkg/market/merrors"

// Roles holds the configured addresses the engine's authentication
// layer names: owner, migration-admin, kill-switch, wind-down, and
// dao. Crank and every query are public; every other entry point
// checks one of these, or that the caller equals the referenced
// position/order owner.
type Roles struct {
	Owner          string
	MigrationAdmin string
	KillSwitch     string
	WindDown       string
	Dao            string
}

func (r Roles) assertOwner(caller string) error {
	if caller != r.Owner {
		return merrors.ErrAuth
	}
	return nil
}

func (r Roles) assertWindDown(caller string) error {
	if caller != r.WindDown && caller != r.Owner {
		return merrors.ErrAuth
	}
	return nil
}

func (r Roles) assertKillSwitch(caller string) error {
	if caller != r.KillSwitch && caller != r.Owner {
		return merrors.ErrAuth
	}
	return nil
}

func (r Roles) assertDao(caller string) error {
	if caller != r.Dao && caller != r.Owner {
		return merrors.ErrAuth
	}
	return nil
}

func assertIsOwnerOf(caller, owner string) error {
	if caller != owner {
		return merrors.ErrAuth
	}
	return nil
}

// internalCaller is the sentinel identity PerformDeferredExec accepts;
// no external address can equal it, so external callers of that
// message are always rejected: it's an internal self-call, rejected
// from external senders.
const internalCaller = "\x00internal"
