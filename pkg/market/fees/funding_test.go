package fees

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

// TestComputeFundingRates ports pkg/contracts/levana/evaluator/evaluator_test.go's
// TestComputeFundingRates table, adapted from float64 to
// sdkmath.LegacyDec inputs. Expected values are compared with a small
// epsilon since LegacyDec's truncated division differs slightly from
// float64 arithmetic at the 18th decimal.
func TestComputeFundingRates(t *testing.T) {
	tests := []struct {
		name                          string
		longNotional                  string
		shortNotional                 string
		fundingRateSensitivity        string
		fundingRateMaxAnnualized      string
		deltaNeutralityFeeSensitivity string
		deltaNeutralityFeeCap         string
		expectedLongRate              string
		expectedShortRate             string
	}{
		{
			name:                          "Longs more popular",
			longNotional:                  "238233.573628609301302489",
			shortNotional:                 "195098.216241976218375226",
			fundingRateSensitivity:        "2.0",
			fundingRateMaxAnnualized:      "0.9",
			deltaNeutralityFeeCap:         "0.005",
			deltaNeutralityFeeSensitivity: "100000000",
			expectedLongRate:              "0.199086973976755554",
			expectedShortRate:             "-0.243104228152260379",
		},
		{
			name:                          "Shorts more popular",
			longNotional:                  "1770.597499123069530388",
			shortNotional:                 "2684.059794083737358887",
			fundingRateSensitivity:        "1.5",
			fundingRateMaxAnnualized:      "0.9",
			deltaNeutralityFeeCap:         "0.0002",
			deltaNeutralityFeeSensitivity: "17006505",
			expectedLongRate:              "-0.466272633355340797",
			expectedShortRate:             "0.307586723793656979",
		},
		{
			name:                          "No liquidity both sides",
			longNotional:                  "0",
			shortNotional:                 "0",
			fundingRateSensitivity:        "1.5",
			fundingRateMaxAnnualized:      "0.9",
			deltaNeutralityFeeCap:         "0.0002",
			deltaNeutralityFeeSensitivity: "18962128239885",
			expectedLongRate:              "0",
			expectedShortRate:             "0",
		},
		{
			name:                          "wBTC failure case",
			longNotional:                  "62533.63301",
			shortNotional:                 "38504.06259",
			fundingRateSensitivity:        "1",
			fundingRateMaxAnnualized:      "0.45",
			deltaNeutralityFeeCap:         "0.0002",
			deltaNeutralityFeeSensitivity: "50000000000",
			expectedLongRate:              "0.2378277759",
			expectedShortRate:             "-0.3862510566",
		},
	}

	epsilon := sdkmath.LegacyMustNewDecFromStr("0.0000001")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rates := ComputeFundingRates(
				sdkmath.LegacyMustNewDecFromStr(tt.longNotional),
				sdkmath.LegacyMustNewDecFromStr(tt.shortNotional),
				sdkmath.LegacyMustNewDecFromStr(tt.fundingRateSensitivity),
				sdkmath.LegacyMustNewDecFromStr(tt.fundingRateMaxAnnualized),
				sdkmath.LegacyMustNewDecFromStr(tt.deltaNeutralityFeeSensitivity),
				sdkmath.LegacyMustNewDecFromStr(tt.deltaNeutralityFeeCap),
			)

			wantLong := sdkmath.LegacyMustNewDecFromStr(tt.expectedLongRate)
			wantShort := sdkmath.LegacyMustNewDecFromStr(tt.expectedShortRate)

			require.True(t, rates.LongRate.Sub(wantLong).Abs().LTE(epsilon),
				"long rate: got %s want %s", rates.LongRate, wantLong)
			require.True(t, rates.ShortRate.Sub(wantShort).Abs().LTE(epsilon),
				"short rate: got %s want %s", rates.ShortRate, wantShort)
		})
	}
}
