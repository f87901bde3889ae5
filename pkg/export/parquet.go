package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/southpawriter02/twinraven/pkg/models"
)

// parquetBatchSize is the row-group granularity of columnar exports.
const parquetBatchSize = 10000

// parquetEvent is the columnar row shape: microsecond UTC timestamps,
// JSON-serialized nested fields, a native list column for tags.
type parquetEvent struct {
	EventID       string   `parquet:"event_id"`
	SessionID     string   `parquet:"session_id"`
	ToolID        string   `parquet:"tool_id"`
	InputHash     string   `parquet:"input_hash"`
	InputParams   string   `parquet:"input_params"`
	OutputSummary *string  `parquet:"output_summary,optional"`
	Predecessor   *string  `parquet:"predecessor,optional"`
	Successor     *string  `parquet:"successor,optional"`
	TimestampUS   int64    `parquet:"timestamp_us"`
	LatencyMS     int32    `parquet:"latency_ms"`
	Outcome       string   `parquet:"outcome"`
	Tags          []string `parquet:"tags,list"`
}

// WriteParquet streams events to a Parquet file in 10 000-row batches,
// writing to a temporary sibling and renaming on success.
func WriteParquet(path string, events Events) (int, error) {
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("%s: %w", path, ErrDestinationExists)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	writer := parquet.NewGenericWriter[parquetEvent](f)

	count := 0
	fail := func(err error) (int, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}

	batch := make([]parquetEvent, 0, parquetBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return fmt.Errorf("failed to write parquet batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for event, err := range events {
		if err != nil {
			return fail(fmt.Errorf("event stream failed: %w", err))
		}
		row, err := toParquetRow(event)
		if err != nil {
			return fail(err)
		}
		batch = append(batch, row)
		count++
		if len(batch) == parquetBatchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
	if err := flush(); err != nil {
		return fail(err)
	}

	if err := writer.Close(); err != nil {
		return fail(fmt.Errorf("failed to close parquet writer: %w", err))
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

func toParquetRow(e *models.Event) (parquetEvent, error) {
	params, err := json.Marshal(e.InputParams)
	if err != nil {
		return parquetEvent{}, fmt.Errorf("failed to marshal input params for %s: %w", e.ID, err)
	}
	row := parquetEvent{
		EventID:     strings.ToLower(e.ID.String()),
		SessionID:   e.SessionID,
		ToolID:      e.ToolID,
		InputHash:   e.InputHash,
		InputParams: string(params),
		TimestampUS: e.Timestamp.UTC().UnixMicro(),
		LatencyMS:   e.LatencyMS,
		Outcome:     string(e.Outcome),
		Tags:        e.Tags,
	}
	if e.OutputSummary != nil {
		row.OutputSummary = e.OutputSummary
	}
	if e.Predecessor != nil {
		s := strings.ToLower(e.Predecessor.String())
		row.Predecessor = &s
	}
	if e.Successor != nil {
		s := strings.ToLower(e.Successor.String())
		row.Successor = &s
	}
	return row, nil
}

// ReadParquet re-ingests a columnar export, the inverse of WriteParquet.
func ReadParquet(path string) ([]*models.Event, error) {
	rows, err := parquet.ReadFile[parquetEvent](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}

	out := make([]*models.Event, 0, len(rows))
	for _, row := range rows {
		event, err := fromParquetRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

func fromParquetRow(row parquetEvent) (*models.Event, error) {
	id, err := uuid.Parse(row.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", row.EventID, err)
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(row.InputParams), &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input params for %s: %w", row.EventID, err)
	}

	event := &models.Event{
		ID:            id,
		SessionID:     row.SessionID,
		ToolID:        row.ToolID,
		InputHash:     row.InputHash,
		InputParams:   params,
		OutputSummary: row.OutputSummary,
		Timestamp:     time.UnixMicro(row.TimestampUS).UTC(),
		LatencyMS:     row.LatencyMS,
		Outcome:       models.Outcome(row.Outcome),
		Tags:          row.Tags,
	}
	if row.Predecessor != nil {
		pred, err := uuid.Parse(*row.Predecessor)
		if err != nil {
			return nil, fmt.Errorf("invalid predecessor %q: %w", *row.Predecessor, err)
		}
		event.Predecessor = &pred
	}
	if row.Successor != nil {
		succ, err := uuid.Parse(*row.Successor)
		if err != nil {
			return nil, fmt.Errorf("invalid successor %q: %w", *row.Successor, err)
		}
		event.Successor = &succ
	}
	return event, nil
}
