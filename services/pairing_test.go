package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(ids ...string) []RankedEntry {
	out := make([]RankedEntry, len(ids))
	for i, id := range ids {
		out[i] = RankedEntry{ID: id}
	}
	return out
}

func TestSwissPairAvoidsRematch(t *testing.T) {
	// A and B met in round 1; the walk must slide B down to D.
	ranked := entries("A", "B", "C", "D")
	played := map[string]bool{PairKey("A", "B"): true}

	pairs, bye := SwissPair(ranked, played)
	require.Empty(t, bye)
	require.Len(t, pairs, 2)
	assert.Equal(t, [2]string{"A", "C"}, pairs[0])
	assert.Equal(t, [2]string{"B", "D"}, pairs[1])
}

func TestSwissPairAdjacentWhenNoHistory(t *testing.T) {
	pairs, bye := SwissPair(entries("A", "B", "C", "D"), nil)
	require.Empty(t, bye)
	assert.Equal(t, [2]string{"A", "B"}, pairs[0])
	assert.Equal(t, [2]string{"C", "D"}, pairs[1])
}

func TestSwissPairByeGoesToLowestWithoutPriorBye(t *testing.T) {
	pairs, bye := SwissPair(entries("A", "B", "C"), nil)
	assert.Equal(t, "C", bye)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"A", "B"}, pairs[0])

	// C already had one: the bye climbs to B.
	ranked := []RankedEntry{{ID: "A"}, {ID: "B"}, {ID: "C", HadBye: true}}
	pairs, bye = SwissPair(ranked, nil)
	assert.Equal(t, "B", bye)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"A", "C"}, pairs[0])
}

func TestSwissPairByeFallsBackWhenEveryoneHadOne(t *testing.T) {
	ranked := []RankedEntry{
		{ID: "A", HadBye: true},
		{ID: "B", HadBye: true},
		{ID: "C", HadBye: true},
	}
	_, bye := SwissPair(ranked, nil)
	assert.Equal(t, "C", bye)
}

func TestSwissPairForcedRematch(t *testing.T) {
	// Only two left and they have met: a rematch beats no pairing.
	played := map[string]bool{PairKey("A", "B"): true}
	pairs, bye := SwissPair(entries("A", "B"), played)
	require.Empty(t, bye)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"A", "B"}, pairs[0])
}

func TestSwissPairPartitionsThePool(t *testing.T) {
	ranked := entries("A", "B", "C", "D", "E", "F", "G", "H")
	played := map[string]bool{
		PairKey("A", "B"): true,
		PairKey("C", "D"): true,
		PairKey("E", "F"): true,
		PairKey("G", "H"): true,
		PairKey("A", "C"): true,
	}
	pairs, bye := SwissPair(ranked, played)
	require.Empty(t, bye)
	require.Len(t, pairs, 4)

	seen := map[string]int{}
	for _, p := range pairs {
		seen[p[0]]++
		seen[p[1]]++
	}
	for _, e := range ranked {
		assert.Equalf(t, 1, seen[e.ID], "%s must appear exactly once", e.ID)
	}
}

func TestPairKeyIsOrderless(t *testing.T) {
	assert.Equal(t, PairKey("x", "y"), PairKey("y", "x"))
	assert.NotEqual(t, PairKey("x", "y"), PairKey("x", "z"))
}
