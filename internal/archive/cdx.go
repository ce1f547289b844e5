package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// Capture is one data row of a CDX index response.
type Capture struct {
	Timestamp string
	Original  string
	At        time.Time
}

// ParseCDX decodes a CDX JSON response. The first row is a header naming the columns;
// an empty body or a header-only array yields no captures.
func ParseCDX(body []byte) ([]Capture, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx response: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	tsIdx, origIdx := -1, -1
	for i, col := range rows[0] {
		switch col {
		case "timestamp":
			tsIdx = i
		case "original":
			origIdx = i
		}
	}
	if tsIdx < 0 || origIdx < 0 {
		return nil, fmt.Errorf("cdx header %v: missing timestamp or original column", rows[0])
	}

	captures := make([]Capture, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if len(row) <= tsIdx || len(row) <= origIdx {
			return nil, fmt.Errorf("cdx row %d: expected %d columns, got %d", n+1, len(rows[0]), len(row))
		}
		at, err := ads.ParseArchiveTimestamp(row[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("cdx row %d: %w", n+1, err)
		}
		if row[origIdx] == "" {
			return nil, fmt.Errorf("cdx row %d: empty original url", n+1)
		}
		captures = append(captures, Capture{
			Timestamp: row[tsIdx],
			Original:  row[origIdx],
			At:        at,
		})
	}
	return captures, nil
}

// Closest returns the capture with the smallest absolute distance to target, measured
// in whole seconds. Exact ties keep the earliest row.
func Closest(captures []Capture, target time.Time) (Capture, bool) {
	if len(captures) == 0 {
		return Capture{}, false
	}
	best := captures[0]
	bestDist := distanceSeconds(best.At, target)
	for _, c := range captures[1:] {
		if d := distanceSeconds(c.At, target); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, true
}

func distanceSeconds(a, b time.Time) int64 {
	d := a.Unix() - b.Unix()
	if d < 0 {
		return -d
	}
	return d
}
