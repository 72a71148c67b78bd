package clocksync

import (
	"sort"
	"time"

	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/playback"
)

// DefaultSampleWindow is how many round-trip samples feed the rolling
// median. Transient latency spikes shift the median far less than a mean.
const DefaultSampleWindow = 7

// Estimator converts ping/pong exchanges into an estimate of the offset
// between the server clock and the local clock. Each heartbeat pong carries
// the server time and echoes the client's send time; the offset assumes the
// round trip is symmetric.
type Estimator struct {
	window  int
	samples []time.Duration
	next    int
	full    bool
}

// NewEstimator creates an estimator over the given sample window.
func NewEstimator(window int) *Estimator {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	return &Estimator{
		window:  window,
		samples: make([]time.Duration, window),
	}
}

// AddSample records one exchange: localSend is when the ping left, localRecv
// when the pong arrived, serverTime the server clock inside the pong.
func (e *Estimator) AddSample(localSend, localRecv, serverTime time.Time) {
	rtt := localRecv.Sub(localSend)
	if rtt < 0 {
		return
	}
	offset := serverTime.Sub(localSend.Add(rtt / 2))
	e.samples[e.next] = offset
	e.next = (e.next + 1) % e.window
	if e.next == 0 {
		e.full = true
	}
}

// Offset returns the rolling median of recorded offsets. Zero until the
// first sample arrives.
func (e *Estimator) Offset() time.Duration {
	n := e.next
	if e.full {
		n = e.window
	}
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, e.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// TargetPosition projects what the play-head should show right now on this
// client: the local clock shifted by the estimated offset, applied to the
// last authoritative snapshot. Drift correction adjusts only the client's
// rendering, never the authoritative state.
func (e *Estimator) TargetPosition(st events.PlaybackState, localNow time.Time) float64 {
	return playback.PositionAt(st, localNow.Add(e.Offset()))
}

// CorrectionKind represents how a client should close playback drift
type CorrectionKind string

const (
	CorrectionNone CorrectionKind = "none"
	CorrectionSeek CorrectionKind = "seek"
	CorrectionRate CorrectionKind = "rate"
)

// Correction tells the rendering collaborator how to converge on the target.
type Correction struct {
	Kind CorrectionKind
	// SeekTo is the absolute position for a seek correction.
	SeekTo float64
	// Rate is the temporary playback rate for a rate correction.
	Rate float64
}

// DriftPolicy decides between a visible seek and a silent rate nudge.
type DriftPolicy struct {
	// SeekThreshold is the drift in seconds above which the client seeks.
	SeekThreshold float64
	// RateNudge is the rate delta applied while absorbing sub-threshold
	// drift (playing slightly faster or slower than 1.0).
	RateNudge float64
	// DeadBand is the drift below which no correction is applied.
	DeadBand float64
}

// DefaultDriftPolicy returns the default drift correction policy
func DefaultDriftPolicy() DriftPolicy {
	return DriftPolicy{
		SeekThreshold: 0.75,
		RateNudge:     0.05,
		DeadBand:      0.1,
	}
}

// Correct compares the computed target position with what the player
// actually shows and returns the correction to apply.
func (p DriftPolicy) Correct(target, actual float64) Correction {
	drift := target - actual
	abs := drift
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= p.DeadBand:
		return Correction{Kind: CorrectionNone, Rate: 1.0}
	case abs > p.SeekThreshold:
		return Correction{Kind: CorrectionSeek, SeekTo: target}
	case drift > 0:
		return Correction{Kind: CorrectionRate, Rate: 1.0 + p.RateNudge}
	default:
		return Correction{Kind: CorrectionRate, Rate: 1.0 - p.RateNudge}
	}
}
