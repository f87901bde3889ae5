package miner

import "sort"

// projection is a sequence index plus the offset the next match may start at.
type projection struct {
	seq    int
	offset int
}

// prefixSpan mines frequent sequential patterns with absolute support of at
// least minCount and length at most maxLen. Output order is deterministic:
// items are explored in lexicographic order at every recursion level.
func prefixSpan(sequences [][]string, minCount, maxLen int) [][]string {
	if minCount < 1 {
		minCount = 1
	}
	initial := make([]projection, len(sequences))
	for i := range sequences {
		initial[i] = projection{seq: i, offset: 0}
	}
	var patterns [][]string
	grow(sequences, initial, nil, minCount, maxLen, &patterns)
	return patterns
}

func grow(sequences [][]string, projected []projection, prefix []string, minCount, maxLen int, out *[][]string) {
	if len(prefix) >= maxLen {
		return
	}

	// Count each item's support in the projected database: one count per
	// sequence, regardless of repeats.
	counts := make(map[string]int)
	for _, p := range projected {
		seen := make(map[string]bool)
		for _, item := range sequences[p.seq][p.offset:] {
			if !seen[item] {
				seen[item] = true
				counts[item]++
			}
		}
	}

	items := make([]string, 0, len(counts))
	for item, n := range counts {
		if n >= minCount {
			items = append(items, item)
		}
	}
	sort.Strings(items)

	for _, item := range items {
		next := make([]projection, 0, len(projected))
		for _, p := range projected {
			seq := sequences[p.seq]
			for i := p.offset; i < len(seq); i++ {
				if seq[i] == item {
					next = append(next, projection{seq: p.seq, offset: i + 1})
					break
				}
			}
		}

		extended := append(append([]string(nil), prefix...), item)
		if len(extended) >= 2 {
			*out = append(*out, extended)
		}
		grow(sequences, next, extended, minCount, maxLen, out)
	}
}

// containsSubsequence reports whether needle occurs as a (not necessarily
// contiguous) subsequence of haystack.
func containsSubsequence(haystack, needle []string) bool {
	if len(needle) == 0 {
		return true
	}
	i := 0
	for _, item := range haystack {
		if item == needle[i] {
			i++
			if i == len(needle) {
				return true
			}
		}
	}
	return false
}

// isStrictSubsequence reports whether a is a strict subsequence of b.
func isStrictSubsequence(a, b []string) bool {
	return len(a) < len(b) && containsSubsequence(b, a)
}
