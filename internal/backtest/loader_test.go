package backtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBarFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV_WithHeader(t *testing.T) {
	path := writeBarFile(t, `timestamp,open,high,low,close,volume
1704067200000,100,101,99,100.5,1200
1704070800000,100.5,102,100,101.5,900
`)

	bars, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 101.5, bars[1].Close)
	assert.Equal(t, 900.0, bars[1].Volume)
}

func TestLoadCSV_RFC3339NoHeader(t *testing.T) {
	path := writeBarFile(t, `2024-01-01T00:00:00Z,100,101,99,100.5,1200
2024-01-01T01:00:00Z,100.5,102,100,101.5,900
`)

	bars, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), bars[1].Timestamp)
}

func TestLoadCSV_Errors(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	// A malformed row past the header is an error, not a skip.
	path := writeBarFile(t, `timestamp,open,high,low,close,volume
1704067200000,100,101,99,100.5,1200
1704070800000,not-a-number,102,100,101.5,900
`)
	_, err = LoadCSV(path)
	assert.Error(t, err)

	// Out-of-order timestamps fail series validation.
	path = writeBarFile(t, `1704070800000,100,101,99,100.5,1200
1704067200000,100.5,102,100,101.5,900
`)
	_, err = LoadCSV(path)
	assert.Error(t, err)
}
