package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetctl/core/journal"
)

var records = []journal.Record{
	{Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), Channel: "unit", Payload: "001", UnitID: 1, Success: true, LatencyMS: 1.25},
	{Timestamp: time.Date(2025, 3, 1, 10, 0, 1, 0, time.UTC), Channel: "display", Payload: "#", Error: "send failed"},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, records))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "channel", rows[0][1])
	assert.Equal(t, []string{"2025-03-01T10:00:00Z", "unit", "001", "1", "true", "", "1.25"}, rows[1])
	assert.Equal(t, "send failed", rows[2][5])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", records))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"payload":"001"`)
}

func TestWriteUnknownFormat(t *testing.T) {
	require.Error(t, Write(&bytes.Buffer{}, "xml", records))
}
