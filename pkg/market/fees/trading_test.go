package fees

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/decimal"
)

// TestTradeFeeOpen ports original_source/packages/msg/src/contracts/market/fees.rs's
// calculate_trade_fee_open unit test verbatim: notional=-500,
// counter=200, trading_fee_notional_size=0.01,
// trading_fee_counter_collateral=0.02 => fee == 9.
func TestTradeFeeOpen(t *testing.T) {
	r := Rates{
		TradingFeeNotionalSize:      sdkmath.LegacyMustNewDecFromStr("0.01"),
		TradingFeeCounterCollateral: sdkmath.LegacyMustNewDecFromStr("0.02"),
	}
	notional := decimal.NewSigned[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr("-500"))
	counter := decimal.NewAmount[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr("200"))

	fee := TradeFeeOpen(r, notional, counter)
	require.Equal(t, "9.000000000000000000", fee.String())
}

// TestTradeFeeUpdate ports the four calculate_trade_fee cases from
// original_source/packages/msg/src/contracts/market/fees.rs.
func TestTradeFeeUpdate(t *testing.T) {
	r := Rates{
		TradingFeeNotionalSize:      sdkmath.LegacyMustNewDecFromStr("0.01"),
		TradingFeeCounterCollateral: sdkmath.LegacyMustNewDecFromStr("0.02"),
	}

	tests := []struct {
		name                         string
		oldNotional, newNotional     string
		oldCounter, newCounter       string
		want                         string
	}{
		{"grow both", "-100", "-500", "100", "200", "6.000000000000000000"},
		{"notional grows counter shrinks", "-100", "-500", "300", "200", "4.000000000000000000"},
		{"notional shrinks counter shrinks", "-600", "-500", "300", "200", "0.000000000000000000"},
		{"notional shrinks counter grows", "-600", "-500", "100", "200", "2.000000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldN := decimal.NewSigned[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr(tt.oldNotional))
			newN := decimal.NewSigned[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr(tt.newNotional))
			oldC := decimal.NewAmount[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr(tt.oldCounter))
			newC := decimal.NewAmount[decimal.CollateralTag](sdkmath.LegacyMustNewDecFromStr(tt.newCounter))

			fee := TradeFeeUpdate(r, oldN, newN, oldC, newC)
			require.Equal(t, tt.want, fee.String())
		})
	}
}
