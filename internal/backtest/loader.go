package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"quant-trade-bot-go/internal/market"
)

// LoadCSV reads price bars from a CSV file with columns
// timestamp,open,high,low,close,volume. The timestamp is either Unix
// milliseconds or RFC 3339; a header row is skipped when present. The
// returned series is validated for strictly increasing timestamps.
func LoadCSV(path string) ([]market.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bar file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading bar file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("bar file %s is empty", path)
	}

	bars := make([]market.PriceBar, 0, len(records))
	for i, rec := range records {
		bar, err := parseBar(rec)
		if err != nil {
			if i == 0 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("bar file line %d: %w", i+1, err)
		}
		bars = append(bars, bar)
	}

	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("bar file %s: %w", path, err)
	}
	return bars, nil
}

func parseBar(rec []string) (market.PriceBar, error) {
	ts, err := parseTimestamp(rec[0])
	if err != nil {
		return market.PriceBar{}, err
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return market.PriceBar{}, fmt.Errorf("parsing field %d: %w", i+2, err)
		}
		vals[i] = v
	}
	return market.PriceBar{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
