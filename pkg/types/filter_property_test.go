package types

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_FilterCountClamping(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsed count always lands in [1,50]", prop.ForAll(
		func(n int) bool {
			f := ParseFilterSet(map[string]string{"count": strconv.Itoa(n)})
			return f.Count >= MinCount && f.Count <= MaxCount
		},
		gen.IntRange(-100000, 100000),
	))

	properties.Property("in-range counts are preserved", prop.ForAll(
		func(n int) bool {
			return ParseFilterSet(map[string]string{"count": strconv.Itoa(n)}).Count == n
		},
		gen.IntRange(MinCount, MaxCount),
	))

	properties.TestingRun(t)
}

func TestProperty_CanonicalStringStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("extra unrecognized keys never change the canonical form", prop.ForAll(
		func(category, junkKey, junkValue string) bool {
			if _, known := map[string]bool{
				"count": true, "layout": true, "category": true, "status": true,
				"orderby": true, "order": true, "show_past": true, "featured": true, "search": true,
			}[junkKey]; known {
				return true
			}
			base := map[string]string{"category": category, "count": "4"}
			withJunk := map[string]string{"category": category, "count": "4", junkKey: junkValue}
			return ParseFilterSet(base).CanonicalString() == ParseFilterSet(withJunk).CanonicalString()
		},
		gen.AlphaString(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(count int, orderBy string) bool {
			f := FilterSet{Count: count, OrderBy: orderBy}
			once := f.Normalize()
			twice := once.Normalize()
			return once.CanonicalString() == twice.CanonicalString()
		},
		gen.IntRange(-1000, 1000),
		gen.OneConstOf("start_date", "title", "price", "bogus", ""),
	))

	properties.TestingRun(t)
}
