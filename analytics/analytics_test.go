package analytics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogFileDataCollector(t *testing.T) {
	file := filepath.Join(t.TempDir(), "analytics.log")
	c, err := NewDataCollector(DataCollectorConfig{FileName: file, CollectorType: LOG_FILE_DATA_COLLECTOR})
	require.NoError(t, err)
	c.RecordActionSuccess("order", "e1", "charge", map[string]any{"ok": true})
	c.RecordActionFailure("order", "e1", "ship", "carrier down")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"action":"charge"`)
	require.Contains(t, lines[1], `"reason":"carrier down"`)
}

func TestNewDataCollector(t *testing.T) {
	c, err := NewDataCollector(DataCollectorConfig{})
	require.NoError(t, err)
	require.IsType(t, NoopDataCollector{}, c)
	_, err = NewDataCollector(DataCollectorConfig{CollectorType: "ELASTIC"})
	require.Error(t, err)
}
