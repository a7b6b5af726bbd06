package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnitsRoundsHalfUp(t *testing.T) {
	cases := map[string]int64{
		"95":        9500,
		"9.50":      950,
		"0.005":     1,
		"0.004":     0,
		"19.999":    2000,
		"58.505":    5851,
		"999999.99": 99999999,
	}
	for in, want := range cases {
		require.Equal(t, want, ToMinorUnits(decimal.RequireFromString(in)), in)
	}
}

func TestPercentMatchesCheckoutExample(t *testing.T) {
	rate := decimal.NewFromInt(10)
	require.True(t, Percent(decimal.NewFromInt(95), rate).Equal(decimal.RequireFromString("9.50")))
	require.True(t, Percent(decimal.NewFromInt(65), rate).Equal(decimal.RequireFromString("6.50")))
	require.True(t, Percent(decimal.NewFromInt(30), rate).Equal(decimal.RequireFromString("3.00")))
}

func TestPercentRoundsHalfUp(t *testing.T) {
	// 12.5% of 0.20 = 0.025 -> 0.03
	got := Percent(decimal.RequireFromString("0.20"), decimal.RequireFromString("12.5"))
	require.Equal(t, "0.03", got.StringFixed(2))
}

func TestFromMinorUnits(t *testing.T) {
	require.Equal(t, "95.00", FromMinorUnits(9500).StringFixed(2))
	require.Equal(t, "0.01", FromMinorUnits(1).StringFixed(2))
}

func TestInRange(t *testing.T) {
	require.True(t, InRange(decimal.RequireFromString("0.01")))
	require.True(t, InRange(MaxAmount))
	require.False(t, InRange(decimal.Zero))
	require.False(t, InRange(decimal.RequireFromString("-1")))
	require.False(t, InRange(decimal.RequireFromString("1000000.00")))
}

func TestParse(t *testing.T) {
	d, err := Parse("5.005")
	require.NoError(t, err)
	require.Equal(t, "5.01", d.StringFixed(2))

	_, err = Parse("five")
	require.Error(t, err)
}
