package sqlvalue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/schema"
)

func TestFromTextRoundTripsThroughFormat(t *testing.T) {
	cases := []struct {
		dt   schema.DataType
		in   string
		want string
	}{
		{schema.DataType{Kind: schema.Boolean}, "true", "t"},
		{schema.DataType{Kind: schema.Boolean}, "f", "f"},
		{schema.DataType{Kind: schema.Int32}, "-42", "-42"},
		{schema.DataType{Kind: schema.Int64}, "1099511627776", "1099511627776"},
		{schema.DataType{Kind: schema.UInt64}, "18446744073709551615", "18446744073709551615"},
		{schema.DataType{Kind: schema.Float64}, "2.5", "2.5"},
		{schema.DataType{Kind: schema.Text}, "plain text", "plain text"},
		{schema.DataType{Kind: schema.Varchar, VarcharLen: 20}, "short", "short"},
		{schema.DataType{Kind: schema.Decimal, DecimalP: 10, DecimalS: 2}, "123.45", "123.45"},
		{schema.DataType{Kind: schema.Jsonb}, `{"k":"v"}`, `{"k":"v"}`},
	}
	for _, tc := range cases {
		c, err := FromText(tc.in, tc.dt)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, Format(c), tc.in)
	}
}

func TestVarcharLengthEnforcedAtStatedLength(t *testing.T) {
	dt := schema.DataType{Kind: schema.Varchar, VarcharLen: 5}
	_, err := FromText("exact", dt)
	require.NoError(t, err)
	_, err = FromText("toolong", dt)
	require.Error(t, err)
}

func TestVectorTextForms(t *testing.T) {
	dt := schema.DataType{Kind: schema.Vector, VectorLen: 4}
	for _, in := range []string{"[1,2,3,4]", "{1, 2, 3, 4}"} {
		c, err := FromText(in, dt)
		require.NoError(t, err, in)
		require.Equal(t, schema.Vector, c.Kind)
		require.Equal(t, "[1,2,3,4]", Format(c))
	}
	_, err := FromText("[1,2,3]", dt)
	require.Error(t, err, "wrong component count must be rejected")
}

func TestCompareOrdersValues(t *testing.T) {
	lt := func(a, b string, dt schema.DataType) {
		t.Helper()
		ca, err := FromText(a, dt)
		require.NoError(t, err)
		cb, err := FromText(b, dt)
		require.NoError(t, err)
		cmp, err := Compare(ca, cb)
		require.NoError(t, err)
		require.Negative(t, cmp)
		cmp, err = Compare(cb, ca)
		require.NoError(t, err)
		require.Positive(t, cmp)
		cmp, err = Compare(ca, ca)
		require.NoError(t, err)
		require.Zero(t, cmp)
	}
	lt("-5", "3", schema.DataType{Kind: schema.Int32})
	lt("1.5", "2.25", schema.DataType{Kind: schema.Float64})
	lt("abc", "abd", schema.DataType{Kind: schema.Text})
	lt("9.99", "10.01", schema.DataType{Kind: schema.Decimal})
}

func TestLikeMatch(t *testing.T) {
	require.True(t, LikeMatch("hello world", "hello%"))
	require.True(t, LikeMatch("hello", "h_llo"))
	require.False(t, LikeMatch("hello", "world%"))
	require.True(t, LikeMatch("anything", "%"))
}
