package miner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// sessionData is one prepared session: its tool sequence plus the ordered
// events backing it.
type sessionData struct {
	id     string
	tools  []string
	events []*models.Event
}

// Miner runs sequential pattern mining over the event store. It is a pure
// reader: results go to the candidate store via the orchestration layer.
type Miner struct {
	store storage.EventStore
}

// New creates a miner over an event store.
func New(store storage.EventStore) *Miner {
	return &Miner{store: store}
}

// Mine executes the full pipeline for one config: session preparation,
// pattern mining, the gsp time-window filter, candidate construction, and
// deduplication. Output is ranked by support descending.
func (m *Miner) Mine(ctx context.Context, cfg models.MiningConfig) ([]*models.CandidateChain, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	sessions, err := m.prepareSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	sequences := make([][]string, len(sessions))
	for i, s := range sessions {
		sequences[i] = s.tools
	}

	minCount := int(math.Ceil(cfg.MinSupport * float64(len(sessions))))
	patterns := prefixSpan(sequences, minCount, cfg.MaxChainLength)

	var chains []*models.CandidateChain
	for _, pattern := range patterns {
		containing := containingSessions(sessions, pattern)
		support := float64(len(containing)) / float64(len(sessions))
		if support < cfg.MinSupport {
			continue
		}

		if cfg.Algorithm == models.AlgorithmGSP {
			containing = filterByTimeWindow(containing, pattern, cfg.TimeWindowSeconds)
			support = float64(len(containing)) / float64(len(sessions))
			if support < cfg.MinSupport {
				continue
			}
		}

		confidence := chainConfidence(sessions, pattern)
		if confidence < cfg.MinConfidence {
			continue
		}

		chains = append(chains, buildCandidate(pattern, containing, len(sessions), support, confidence, cfg))
	}

	chains = dedupe(chains, cfg.SubsumptionThreshold)

	sort.SliceStable(chains, func(i, j int) bool {
		if chains[i].Support != chains[j].Support {
			return chains[i].Support > chains[j].Support
		}
		if len(chains[i].Tools) != len(chains[j].Tools) {
			return len(chains[i].Tools) > len(chains[j].Tools)
		}
		return lessTools(chains[i].Tools, chains[j].Tools)
	})

	slog.Info("Mining completed",
		"sessions", len(sessions), "patterns", len(patterns), "candidates", len(chains))
	return chains, nil
}

// prepareSessions fetches and reduces candidate sessions to tool sequences.
func (m *Miner) prepareSessions(ctx context.Context, cfg models.MiningConfig) ([]sessionData, error) {
	ids := cfg.SessionIDs
	if len(ids) == 0 {
		var err error
		ids, err = m.store.GetSessions(ctx, cfg.Since, cfg.Until, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
	}

	var sessions []sessionData
	for _, sid := range ids {
		if cfg.SampleRate < 1.0 && !sampled(sid, cfg.SampleRate) {
			continue
		}

		events, err := m.store.GetBySession(ctx, sid, storage.OrderTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", sid, err)
		}
		events = filterWindow(events, cfg.Since, cfg.Until)

		var tools []string
		var kept []*models.Event
		for _, e := range events {
			if cfg.CollapseRepeats && len(tools) > 0 && tools[len(tools)-1] == e.ToolID {
				continue
			}
			tools = append(tools, e.ToolID)
			kept = append(kept, e)
		}
		if len(tools) < 2 {
			continue
		}
		// Heuristic cap: pathologically long sessions dominate mining cost
		// without adding pattern signal.
		if len(tools) > 3*cfg.MaxChainLength {
			continue
		}
		sessions = append(sessions, sessionData{id: sid, tools: tools, events: kept})
	}
	return sessions, nil
}

// sampled deterministically selects sessions by hashing the session id, so a
// fixed event set and config reproduce the same sample.
func sampled(sessionID string, rate float64) bool {
	return xxhash.Sum64String(sessionID)%10000 < uint64(rate*10000)
}

func filterWindow(events []*models.Event, since, until time.Time) []*models.Event {
	var out []*models.Event
	for _, e := range events {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !e.Timestamp.Before(until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containingSessions(sessions []sessionData, pattern []string) []sessionData {
	var out []sessionData
	for _, s := range sessions {
		if containsSubsequence(s.tools, pattern) {
			out = append(out, s)
		}
	}
	return out
}

// filterByTimeWindow keeps sessions where some matching position set has all
// inter-step gaps within the window. The gap is measured from the end of one
// call (timestamp + latency) to the start of the next.
func filterByTimeWindow(sessions []sessionData, pattern []string, windowSeconds float64) []sessionData {
	window := time.Duration(windowSeconds * float64(time.Second))
	var out []sessionData
	for _, s := range sessions {
		if hasMatchWithinWindow(s.events, pattern, window) {
			out = append(out, s)
		}
	}
	return out
}

// hasMatchWithinWindow runs a reachability pass over the session's events:
// level i is reachable at event j when the event matches pattern[i] and some
// earlier reachable level i-1 event ends within the window before it.
func hasMatchWithinWindow(events []*models.Event, pattern []string, window time.Duration) bool {
	// reachEnd[i] holds the end times (timestamp + latency) of events where
	// pattern[:i+1] can terminate.
	reachEnd := make([][]time.Time, len(pattern))
	for _, e := range events {
		end := e.Timestamp.Add(time.Duration(e.LatencyMS) * time.Millisecond)
		for i := len(pattern) - 1; i >= 0; i-- {
			if e.ToolID != pattern[i] {
				continue
			}
			if i == 0 {
				reachEnd[0] = append(reachEnd[0], end)
				continue
			}
			for _, prevEnd := range reachEnd[i-1] {
				if !prevEnd.After(e.Timestamp) && e.Timestamp.Sub(prevEnd) <= window {
					reachEnd[i] = append(reachEnd[i], end)
					break
				}
			}
		}
	}
	return len(reachEnd[len(pattern)-1]) > 0
}

// chainConfidence is the mean, over consecutive links, of the probability
// that the later tool appears after the earlier one within a session. After
// means later in the sequence, not strictly adjacent.
func chainConfidence(sessions []sessionData, pattern []string) float64 {
	if len(pattern) < 2 {
		return 0
	}
	var total float64
	for i := 0; i+1 < len(pattern); i++ {
		a, b := pattern[i], pattern[i+1]
		withA, withAB := 0, 0
		for _, s := range sessions {
			firstA := -1
			for idx, t := range s.tools {
				if t == a {
					firstA = idx
					break
				}
			}
			if firstA < 0 {
				continue
			}
			withA++
			for _, t := range s.tools[firstA+1:] {
				if t == b {
					withAB++
					break
				}
			}
		}
		if withA > 0 {
			total += float64(withAB) / float64(withA)
		}
	}
	return total / float64(len(pattern)-1)
}

// matchPositions returns the leftmost greedy match of pattern in the
// session's events, or nil when the pattern does not occur.
func matchPositions(events []*models.Event, pattern []string) []*models.Event {
	matched := make([]*models.Event, 0, len(pattern))
	i := 0
	for _, e := range events {
		if i < len(pattern) && e.ToolID == pattern[i] {
			matched = append(matched, e)
			i++
		}
	}
	if i < len(pattern) {
		return nil
	}
	return matched
}

func buildCandidate(pattern []string, containing []sessionData, total int, support, confidence float64, cfg models.MiningConfig) *models.CandidateChain {
	var latencySum float64
	failures := 0
	type sample struct {
		eventID uuid.UUID
		at      time.Time
	}
	var samples []sample

	for _, s := range containing {
		matched := matchPositions(s.events, pattern)
		if matched == nil {
			continue
		}
		var sessionLatency float64
		for _, e := range matched {
			sessionLatency += float64(e.LatencyMS)
		}
		latencySum += sessionLatency
		// Partial outcomes do not count as failures.
		if matched[len(matched)-1].Outcome == models.OutcomeFailure {
			failures++
		}
		samples = append(samples, sample{eventID: matched[0].ID, at: matched[0].Timestamp})
	}

	n := float64(len(containing))
	avgLatency := 0.0
	failureRate := 0.0
	if n > 0 {
		avgLatency = latencySum / n
		failureRate = float64(failures) / n
	}

	// Provenance prefers recent sessions.
	sort.Slice(samples, func(i, j int) bool {
		if !samples[i].at.Equal(samples[j].at) {
			return samples[i].at.After(samples[j].at)
		}
		return samples[i].eventID.String() < samples[j].eventID.String()
	})
	if limit := effectiveSampleCap(cfg); len(samples) > limit {
		samples = samples[:limit]
	}
	sampleIDs := make([]uuid.UUID, len(samples))
	for i, s := range samples {
		sampleIDs[i] = s.eventID
	}

	return &models.CandidateChain{
		ID:             uuid.New(),
		Tools:          append([]string(nil), pattern...),
		Support:        support,
		Confidence:     confidence,
		AvgLatencyMS:   avgLatency,
		FailureRate:    failureRate,
		SampleEventIDs: sampleIDs,
		DiscoveredAt:   time.Now().UTC(),
		MiningConfig:   cfg,
	}
}

func lessTools(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ChainSupport recomputes the fraction of sessions in the window containing
// the chain as a subsequence. The registry's drift scan uses it to compare
// current support against the support recorded at synthesis time.
func (m *Miner) ChainSupport(ctx context.Context, tools []string, since, until time.Time) (float64, error) {
	ids, err := m.store.GetSessions(ctx, since, until, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	containing := 0
	for _, sid := range ids {
		events, err := m.store.GetBySession(ctx, sid, storage.OrderTimestamp)
		if err != nil {
			return 0, fmt.Errorf("failed to load session %s: %w", sid, err)
		}
		seq := make([]string, len(events))
		for i, e := range events {
			seq[i] = e.ToolID
		}
		if containsSubsequence(seq, tools) {
			containing++
		}
	}
	return float64(containing) / float64(len(ids)), nil
}
