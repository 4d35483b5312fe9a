package correlator

import (
	"cmp"
	"slices"
	"time"

	"Go2NetMonitor/internal/model"
)

// ComputeRate derives upload and download KB/s from two snapshots of one
// interface. A counter that went backwards is treated as reset, so the new
// value itself is the delta. ok is false when curr is not after prev.
func ComputeRate(prev, curr model.TrafficPoint) (up, down float64, ok bool) {
	seconds := float64(curr.TimestampMs-prev.TimestampMs) / 1000
	if seconds <= 0 {
		return 0, 0, false
	}
	up = float64(counterDelta(prev.BytesSent, curr.BytesSent)) / seconds / 1024
	down = float64(counterDelta(prev.BytesReceived, curr.BytesReceived)) / seconds / 1024
	return up, down, true
}

func counterDelta(prev, curr uint64) uint64 {
	if curr >= prev {
		return curr - prev
	}
	return curr
}

// BuildRateSeries turns stored snapshots into upload and download rate
// series. Where two consecutive snapshots are more than gapThreshold apart,
// zero points are placed 1ms after the earlier and 1ms before the later one
// so the gap renders as a drop to zero.
func BuildRateSeries(points []model.TrafficPoint, gapThreshold time.Duration) (upload, download []model.SeriesPoint) {
	if len(points) < 2 {
		return nil, nil
	}
	sorted := sortTraffic(points)
	gapMs := gapThreshold.Milliseconds()
	upload = make([]model.SeriesPoint, 0, len(sorted)*2)
	download = make([]model.SeriesPoint, 0, len(sorted)*2)
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		if curr.TimestampMs-prev.TimestampMs > gapMs {
			for _, ts := range []int64{prev.TimestampMs + 1, curr.TimestampMs - 1} {
				upload = append(upload, model.SeriesPoint{TimestampMs: ts})
				download = append(download, model.SeriesPoint{TimestampMs: ts})
			}
		}
		up, down, ok := ComputeRate(prev, curr)
		if !ok {
			continue
		}
		upload = append(upload, model.SeriesPoint{TimestampMs: curr.TimestampMs, Value: up})
		download = append(download, model.SeriesPoint{TimestampMs: curr.TimestampMs, Value: down})
	}
	return upload, download
}

// sortTraffic returns points ordered by timestamp without touching the input.
func sortTraffic(points []model.TrafficPoint) []model.TrafficPoint {
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b model.TrafficPoint) int {
		return cmp.Compare(a.TimestampMs, b.TimestampMs)
	})
	return sorted
}

// FillBuckets expands sparse QPS buckets into one point per interval from
// the interval containing startMs through endMs, zero where no bucket exists.
func FillBuckets(buckets []model.QPSBucket, startMs, endMs int64, interval time.Duration) []model.SeriesPoint {
	width := interval.Milliseconds()
	if width <= 0 || endMs < startMs {
		return nil
	}

	counts := make(map[int64]int, len(buckets))
	for _, b := range buckets {
		counts[b.WindowStartMs] = b.Count
	}

	first := floorDiv(startMs, width) * width
	out := make([]model.SeriesPoint, 0, (endMs-first)/width+1)
	for ts := first; ts <= endMs; ts += width {
		out = append(out, model.SeriesPoint{TimestampMs: ts, Value: float64(counts[ts])})
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
