package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Find   GBP/USD", "find gbp/usd"},
		{"Search for the GBP/USD rate", "find gbp/usd rate"},
		{"Navigate to the investing home page", "go-to investing home page"},
		{"go to google", "go-to google"},
		{"Open settings and click Save", "go-to settings click save"},
		{"Enter a name in the form", "type name form"},
		{"Look for a flight to Paris", "find flight paris"},
		{"", ""},
		{"the a an", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, in := range []string{"Browse to the docs", "show me GBP/USD", "press the submit button"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalizing twice must not change %q", in)
	}
}

func TestExtract(t *testing.T) {
	e := Extract("Find pair:GBPUSD and open site:investing")
	assert.Equal(t, "find pair:gbpusd go-to site:investing", e.Normalized)
	assert.Equal(t, []string{"gbpusd", "investing"}, e.Entities)
	assert.Equal(t, []string{VerbFind, VerbGoTo}, e.Verbs)

	empty := Extract("   ")
	assert.Empty(t, empty.Normalized)
	assert.Nil(t, empty.Entities)
	assert.Nil(t, empty.Verbs)
}

func TestSimilarity(t *testing.T) {
	t.Run("identical tasks score one", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("find GBP/USD", "find gbp/usd"), 1e-9)
	})

	t.Run("synonyms collapse to the same verb", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("search for GBP/USD", "look for GBP/USD"), 1e-9)
	})

	t.Run("verb mismatch is a hard gate", func(t *testing.T) {
		assert.Zero(t, Similarity("find GBP/USD", "close GBP/USD"))
		assert.Zero(t, Similarity("find GBP/USD price chart today", "click GBP/USD price chart today"))
	})

	t.Run("overlap over the larger set", func(t *testing.T) {
		// {find, gbp/usd} vs {find, gbp/usd, historical, data}: 2 / 4.
		assert.InDelta(t, 0.5, Similarity("find GBP/USD", "find GBP/USD historical data"), 1e-9)
	})

	t.Run("empty input scores zero", func(t *testing.T) {
		assert.Zero(t, Similarity("", "find x"))
		assert.Zero(t, Similarity("the", "the"))
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "open the GBP/USD page", "visit GBP/USD page now"
		assert.Equal(t, Similarity(a, b), Similarity(b, a))
	})
}

func TestIsVerb(t *testing.T) {
	assert.True(t, IsVerb(VerbGoTo))
	assert.True(t, IsVerb("type"))
	assert.False(t, IsVerb("go"))
}
