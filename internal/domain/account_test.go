package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountStateCopyIsDeep(t *testing.T) {
	s := NewAccountState([]string{"BTCUSDT"})
	s.WalletBalance = 1000
	s.Positions["BTCUSDT"] = Position{Margin: 50, Direction: DirectionLong, EntryPrice: 60000}
	s.OpenOrders["BTCUSDT"][42] = OpenOrder{Type: OrderBookBuy, Boundary: 59000}

	c := s.Copy()
	c.Positions["BTCUSDT"] = Position{Direction: DirectionShort}
	c.OpenOrders["BTCUSDT"][43] = OpenOrder{Type: OrderBookSell, Boundary: 61000}

	require.Equal(t, DirectionLong, s.Positions["BTCUSDT"].Direction)
	require.NotContains(t, s.OpenOrders["BTCUSDT"], int64(43))
}

func TestDirectionFromAmount(t *testing.T) {
	require.Equal(t, DirectionLong, DirectionFromAmount(0.5))
	require.Equal(t, DirectionShort, DirectionFromAmount(-0.5))
	require.Equal(t, DirectionNone, DirectionFromAmount(0))
}

func TestStrategyValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Strategy
		wantErr bool
	}{
		{"valid", Strategy{CodeName: "ABCDEF", Version: "1.0", RiskLevel: RiskLow}, false},
		{"lowercase code", Strategy{CodeName: "abcdef", Version: "1.0", RiskLevel: RiskLow}, true},
		{"short code", Strategy{CodeName: "ABC", Version: "1.0", RiskLevel: RiskLow}, true},
		{"bad version", Strategy{CodeName: "ABCDEF", Version: "1", RiskLevel: RiskLow}, true},
		{"bad risk", Strategy{CodeName: "ABCDEF", Version: "1.0", RiskLevel: "extreme"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	require.Equal(t, -1, CompareVersions("1.0", "1.1"))
	require.Equal(t, 0, CompareVersions("2.3", "2.3"))
	require.Equal(t, 1, CompareVersions("10.0", "9.9"))
}
