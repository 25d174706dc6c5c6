package leaderboard

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_CreditDecay checks that an entry leaves the ranking exactly
// min(passesOnTop, MaxCredit) passes after it stops placing in the top groups.
func TestProperty_CreditDecay(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("eviction delay equals earned credit", prop.ForAll(
		func(onTop int) bool {
			a := newFake("a", 1000, 0)
			lb := New(roster(a, newFake("b", 10, 0), newFake("c", 20, 0), newFake("d", 30, 0), newFake("e", 40, 0)), nil)
			for i := 0; i < onTop; i++ {
				lb.Rank()
			}

			a.wallet.Store(1.0)
			want := min(onTop, MaxCredit)
			for pass := 1; pass <= want; pass++ {
				lb.Rank()
				_, present := entryFor(lb.Balance(), "a")
				if present != (pass < want) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
