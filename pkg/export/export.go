// Package export writes command journal records for operators.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/fleetctl/core/journal"
)

// Formats supported by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write encodes records to w in the named format.
func Write(w io.Writer, format string, recs []journal.Record) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, recs)
	case FormatCSV:
		return WriteCSV(w, recs)
	}
	return fmt.Errorf("unsupported export format: %s", format)
}

// WriteJSON writes one JSON object per line.
func WriteJSON(w io.Writer, recs []journal.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes the records in CSV format with a header line.
func WriteCSV(w io.Writer, recs []journal.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "channel", "payload", "unit_id", "success", "error", "latency_ms"}); err != nil {
		return err
	}
	for _, r := range recs {
		rec := []string{
			r.Timestamp.Format(time.RFC3339Nano),
			r.Channel,
			r.Payload,
			strconv.Itoa(r.UnitID),
			strconv.FormatBool(r.Success),
			r.Error,
			strconv.FormatFloat(r.LatencyMS, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
