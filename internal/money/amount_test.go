package money_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/money"
)

func TestMinorRoundsHalfAwayFromZero(t *testing.T) {
	cases := map[string]int64{
		"500":     50000,
		"500.00":  50000,
		"0.01":    1,
		"19.995":  2000,
		"19.994":  1999,
		"1234.5":  123450,
		"0.005":   1,
		"8.66832": 867,
	}
	for in, want := range cases {
		got, ok := money.MustParse(in).Minor()
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
}

func TestMinorReportsOverflow(t *testing.T) {
	for _, in := range []string{"184467440737095516.17", "92233720368547758.08", "-92233720368547758.09"} {
		_, ok := money.MustParse(in).Minor()
		require.False(t, ok, in)
	}
	got, ok := money.MustParse("92233720368547758.07").Minor()
	require.True(t, ok)
	require.Equal(t, int64(math.MaxInt64), got)
}

func TestFromMinorRoundTrip(t *testing.T) {
	a := money.FromMinor(50000)
	require.Equal(t, "500.00", a.String())
	minor, _ := a.Minor()
	require.Equal(t, int64(50000), minor)
}

func TestConvert(t *testing.T) {
	rate := decimal.RequireFromString("0.017")
	converted := money.MustParse("500").Convert(rate)
	minor, _ := converted.Minor()
	require.Equal(t, int64(850), minor)
}

func TestJSON(t *testing.T) {
	var payload struct {
		Amount money.Amount  `json:"amount"`
		Fee    *money.Amount `json:"fee"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.5","fee":null}`), &payload))
	require.Equal(t, "12.50", payload.Amount.String())
	require.Nil(t, payload.Fee)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":99.9,"fee":3}`), &payload))
	require.NotNil(t, payload.Fee)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":99.90,"fee":3.00}`, string(out))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var a money.Amount
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &a))
	require.Error(t, json.Unmarshal([]byte(`true`), &a))
}
