package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/config"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/engine"
	"github.com/levana-engine/perpcore/pkg/oraclecfg"
)

func TestNewComposerManualMode(t *testing.T) {
	f := &config.File{ManualMode: true}
	c := newComposer(f, market.Config{}, market.Ident{})
	_, ok := c.(*engine.ManualComposer)
	require.True(t, ok)
}

func TestNewComposerOracleMode(t *testing.T) {
	f := &config.File{OracleFeeds: "/etc/perpcore/feeds.toml"}
	ident := market.Ident{Base: "BTC", Quote: "USDC", Type: market.CollateralIsQuote}
	c := newComposer(f, market.Config{}, ident)
	oc, ok := c.(oraclecfg.Composer)
	require.True(t, ok)
	require.Equal(t, ident, oc.Ident)
	require.Len(t, oc.Notional.Feeds, 1)
	require.Len(t, oc.Usd.FeedsUsd, 1)
}
