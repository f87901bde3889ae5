package miner

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// dedupe merges equal chains and drops chains subsumed by longer ones with
// comparable support.
func dedupe(chains []*models.CandidateChain, subsumptionThreshold float64) []*models.CandidateChain {
	// Equality: same tool list merges, keeping the higher support and the
	// union of sample IDs.
	byKey := make(map[string]*models.CandidateChain)
	var order []string
	for _, c := range chains {
		key := strings.Join(c.Tools, "\x00")
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = c
			order = append(order, key)
			continue
		}
		if c.Support > existing.Support {
			c.SampleEventIDs = unionIDs(c.SampleEventIDs, existing.SampleEventIDs)
			byKey[key] = c
		} else {
			existing.SampleEventIDs = unionIDs(existing.SampleEventIDs, c.SampleEventIDs)
		}
	}

	merged := make([]*models.CandidateChain, 0, len(byKey))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}

	// Subsumption: drop A when it is a strict subsequence of B and the
	// support difference is within the threshold.
	kept := make([]*models.CandidateChain, 0, len(merged))
	for _, a := range merged {
		subsumed := false
		for _, b := range merged {
			if a == b || !isStrictSubsequence(a.Tools, b.Tools) {
				continue
			}
			if b.Support <= 0 {
				continue
			}
			if math.Abs(a.Support-b.Support)/b.Support <= subsumptionThreshold {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, a)
		}
	}
	return kept
}

func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(a))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
