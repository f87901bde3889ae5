package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/southpawriter02/twinraven/pkg/canonical"
	"github.com/southpawriter02/twinraven/pkg/models"
)

// timestampLayout is ISO-8601 UTC at microsecond precision.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// WriteJSONL streams events to a line-delimited JSON file: one canonical
// record per line, alphabetical field order, lowercase UUIDs. The file is
// written to a temporary sibling and renamed on success; a failed export
// leaves nothing behind.
func WriteJSONL(path string, events Events) (int, error) {
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("%s: %w", path, ErrDestinationExists)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	count := 0
	w := bufio.NewWriter(f)
	fail := func(err error) (int, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	for event, err := range events {
		if err != nil {
			return fail(fmt.Errorf("event stream failed: %w", err))
		}
		line, err := canonical.Marshal(jsonlRecord(event))
		if err != nil {
			return fail(fmt.Errorf("failed to encode event %s: %w", event.ID, err))
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fail(fmt.Errorf("failed to write export file: %w", err))
		}
		count++
	}

	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to flush export file: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to finalize export file: %w", err)
	}
	return count, nil
}

// jsonlRecord renders one event as a flat JSON object. Canonical marshaling
// sorts the keys, which yields the alphabetical field order.
func jsonlRecord(e *models.Event) map[string]any {
	rec := map[string]any{
		"event_id":       strings.ToLower(e.ID.String()),
		"session_id":     e.SessionID,
		"tool_id":        e.ToolID,
		"input_hash":     e.InputHash,
		"input_params":   e.InputParams,
		"output_summary": nil,
		"predecessor":    nil,
		"successor":      nil,
		"timestamp":      e.Timestamp.UTC().Format(timestampLayout),
		"latency_ms":     e.LatencyMS,
		"outcome":        string(e.Outcome),
		"tags":           tagsOrEmpty(e.Tags),
	}
	if e.OutputSummary != nil {
		rec["output_summary"] = *e.OutputSummary
	}
	if e.Predecessor != nil {
		rec["predecessor"] = strings.ToLower(e.Predecessor.String())
	}
	if e.Successor != nil {
		rec["successor"] = strings.ToLower(e.Successor.String())
	}
	return rec
}

func tagsOrEmpty(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

// ReadJSONL re-ingests a line-delimited export, the inverse of WriteJSONL.
func ReadJSONL(path string) ([]*models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []*models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := decodeJSONLRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}
	return out, nil
}

func decodeJSONLRecord(line []byte) (*models.Event, error) {
	var raw struct {
		EventID       string         `json:"event_id"`
		SessionID     string         `json:"session_id"`
		ToolID        string         `json:"tool_id"`
		InputHash     string         `json:"input_hash"`
		InputParams   map[string]any `json:"input_params"`
		OutputSummary *string        `json:"output_summary"`
		Predecessor   *string        `json:"predecessor"`
		Successor     *string        `json:"successor"`
		Timestamp     string         `json:"timestamp"`
		LatencyMS     int32          `json:"latency_ms"`
		Outcome       string         `json:"outcome"`
		Tags          []string       `json:"tags"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode export line: %w", err)
	}

	id, err := uuid.Parse(raw.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", raw.EventID, err)
	}
	ts, err := time.Parse(timestampLayout, raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", raw.Timestamp, err)
	}

	event := &models.Event{
		ID:            id,
		SessionID:     raw.SessionID,
		ToolID:        raw.ToolID,
		InputHash:     raw.InputHash,
		InputParams:   raw.InputParams,
		OutputSummary: raw.OutputSummary,
		Timestamp:     ts.UTC(),
		LatencyMS:     raw.LatencyMS,
		Outcome:       models.Outcome(raw.Outcome),
		Tags:          raw.Tags,
	}
	if raw.Predecessor != nil {
		pred, err := uuid.Parse(*raw.Predecessor)
		if err != nil {
			return nil, fmt.Errorf("invalid predecessor %q: %w", *raw.Predecessor, err)
		}
		event.Predecessor = &pred
	}
	if raw.Successor != nil {
		succ, err := uuid.Parse(*raw.Successor)
		if err != nil {
			return nil, fmt.Errorf("invalid successor %q: %w", *raw.Successor, err)
		}
		event.Successor = &succ
	}
	return event, nil
}
