package correlator

import "Go2NetMonitor/internal/model"

// Series is the in-memory rate history of one interface. Points older than
// the retention cutoff are evicted from the front on every append.
type Series struct {
	Upload   []model.SeriesPoint
	Download []model.SeriesPoint

	last    model.TrafficPoint
	hasLast bool
}

// Observe records a live counter reading. The first reading only seeds the
// series; later ones append a rate point unless the clock did not advance.
func (s *Series) Observe(curr model.TrafficPoint, cutoffMs int64) {
	if s.hasLast {
		if up, down, ok := ComputeRate(s.last, curr); ok {
			s.Append(model.SeriesPoint{TimestampMs: curr.TimestampMs, Value: up},
				model.SeriesPoint{TimestampMs: curr.TimestampMs, Value: down}, cutoffMs)
		}
	}
	s.last = curr
	s.hasLast = true
}

// Append adds one upload and one download point, then drops every point
// older than cutoffMs.
func (s *Series) Append(up, down model.SeriesPoint, cutoffMs int64) {
	s.Upload = evict(append(s.Upload, up), cutoffMs)
	s.Download = evict(append(s.Download, down), cutoffMs)
}

// Replace swaps in a freshly loaded history. last seeds the next live point.
func (s *Series) Replace(upload, download []model.SeriesPoint, last *model.TrafficPoint) {
	s.Upload = upload
	s.Download = download
	if last != nil {
		s.last = *last
		s.hasLast = true
	}
}

func evict(points []model.SeriesPoint, cutoffMs int64) []model.SeriesPoint {
	i := 0
	for i < len(points) && points[i].TimestampMs < cutoffMs {
		i++
	}
	if i == 0 {
		return points
	}
	// Copy down so the backing array does not grow without bound.
	n := copy(points, points[i:])
	return points[:n]
}
