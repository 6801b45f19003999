package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skywatch/internal/model"
)

func mustCompile(t *testing.T, spec map[string]string) Matcher {
	t.Helper()
	m, err := Compile(spec)
	require.NoError(t, err)
	return m
}

func evaluate(t *testing.T, m Matcher, a *model.Auction) bool {
	t.Helper()
	ok, err := m(a)
	require.NoError(t, err)
	return ok
}

func TestCompileItemName(t *testing.T) {
	m := mustCompile(t, map[string]string{"itemname": "hyperion"})

	assert.True(t, evaluate(t, m, &model.Auction{ItemName: "Withered Hyperion"}))
	assert.False(t, evaluate(t, m, &model.Auction{ItemName: "Aspect of the End"}))
}

func TestCompileTagAndTier(t *testing.T) {
	m := mustCompile(t, map[string]string{"tag": "HYPERION", "rarity": "mythic"})

	assert.True(t, evaluate(t, m, &model.Auction{Tag: "HYPERION", Tier: "MYTHIC"}))
	assert.False(t, evaluate(t, m, &model.Auction{Tag: "HYPERION", Tier: "LEGENDARY"}))
	assert.False(t, evaluate(t, m, &model.Auction{Tag: "TERMINATOR", Tier: "MYTHIC"}))
}

func TestCompileBin(t *testing.T) {
	m := mustCompile(t, map[string]string{"bin": "true"})

	assert.True(t, evaluate(t, m, &model.Auction{Bin: true}))
	assert.False(t, evaluate(t, m, &model.Auction{Bin: false}))

	_, err := Compile(map[string]string{"bin": "maybe"})
	assert.Error(t, err)
}

func TestCompilePriceBounds(t *testing.T) {
	m := mustCompile(t, map[string]string{"minprice": "100", "maxprice": "1.5m"})

	assert.True(t, evaluate(t, m, &model.Auction{StartingBid: 500_000}))
	assert.False(t, evaluate(t, m, &model.Auction{StartingBid: 50}))
	assert.False(t, evaluate(t, m, &model.Auction{StartingBid: 2_000_000}))
}

func TestParsePriceShorthand(t *testing.T) {
	cases := map[string]int64{
		"100":  100,
		"5k":   5_000,
		"1.5m": 1_500_000,
		"2b":   2_000_000_000,
	}
	for in, want := range cases {
		got, err := parsePrice(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parsePrice("lots")
	assert.Error(t, err)
}

func TestCompileAttributeRange(t *testing.T) {
	m := mustCompile(t, map[string]string{"mana_pool": "5-10"})

	in := &model.Auction{Attributes: map[string]string{"Mana_Pool": "7"}}
	assert.True(t, evaluate(t, m, in))

	out := &model.Auction{Attributes: map[string]string{"Mana_Pool": "12"}}
	assert.False(t, evaluate(t, m, out))
}

func TestCompileAttributeExact(t *testing.T) {
	m := mustCompile(t, map[string]string{"skin": "Dragon"})

	assert.True(t, evaluate(t, m, &model.Auction{Attributes: map[string]string{"skin": "dragon"}}))
	assert.False(t, evaluate(t, m, &model.Auction{Attributes: map[string]string{"skin": "wither"}}))
}

func TestUnknownAttributeError(t *testing.T) {
	m := mustCompile(t, map[string]string{"skin": "dragon"})

	_, err := m(&model.Auction{Attributes: map[string]string{}})
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestRebuildAttributeLookupRecovers(t *testing.T) {
	m := mustCompile(t, map[string]string{"skin": "dragon"})

	a := &model.Auction{}
	a.AttributeLookup() // computed without the attribute

	a.Attributes = map[string]string{"skin": "dragon"}
	_, err := m(a)
	require.ErrorIs(t, err, ErrUnknownAttribute)

	a.RebuildAttributeLookup()
	ok, err := m(a)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptySpecAlwaysMatches(t *testing.T) {
	m := mustCompile(t, map[string]string{})
	assert.True(t, evaluate(t, m, &model.Auction{}))
}

func TestCacheMemoizesPerSubscription(t *testing.T) {
	c := NewCache()

	sub := &model.Subscription{ID: 1, Filter: `{"tag":"HYPERION"}`, Type: model.SubTypeFilter}
	m1, err := c.Matcher(sub)
	require.NoError(t, err)
	m2, err := c.Matcher(sub)
	require.NoError(t, err)
	assert.NotNil(t, m1)
	assert.NotNil(t, m2)

	ok, err := m1(&model.Auction{Tag: "HYPERION"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheInvalidatesOnFilterChange(t *testing.T) {
	c := NewCache()

	sub := &model.Subscription{ID: 1, Filter: `{"tag":"HYPERION"}`, Type: model.SubTypeFilter}
	m, err := c.Matcher(sub)
	require.NoError(t, err)
	ok, err := m(&model.Auction{Tag: "HYPERION"})
	require.NoError(t, err)
	require.True(t, ok)

	sub.Filter = `{"tag":"TERMINATOR"}`
	m, err = c.Matcher(sub)
	require.NoError(t, err)
	ok, err = m(&model.Auction{Tag: "HYPERION"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheEmptyFilterPasses(t *testing.T) {
	c := NewCache()

	m, err := c.Matcher(&model.Subscription{ID: 1})
	require.NoError(t, err)
	assert.Nil(t, m)
}
