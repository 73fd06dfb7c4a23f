package market

import (
	"sync"
	"time"
)

// Window is the rolling candle sequence for one (instrument, timeframe).
// Writes happen on the ingestor goroutine; reads take snapshots.
// Invariant: monotonic openTime, length bounded to retention.
type Window struct {
	mu         sync.RWMutex
	instrument string
	timeframe  Timeframe
	retention  int
	candles    []Candle
}

// NewWindow creates an empty window with the given retention bound
func NewWindow(instrument string, tf Timeframe, retention int) *Window {
	return &Window{
		instrument: instrument,
		timeframe:  tf,
		retention:  retention,
		candles:    make([]Candle, 0, retention),
	}
}

// Append inserts a finalized candle, keeping openTime monotonic.
// A candle with the tail's openTime replaces it (latest version wins);
// anything older than the tail is ignored. Returns true if the window
// tail advanced.
func (w *Window) Append(c Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.candles)
	if n > 0 {
		tail := w.candles[n-1].OpenTime
		if c.OpenTime.Before(tail) {
			return false
		}
		if c.OpenTime.Equal(tail) {
			w.candles[n-1] = c
			return false
		}
	}

	w.candles = append(w.candles, c)
	if len(w.candles) > w.retention {
		w.candles = w.candles[len(w.candles)-w.retention:]
	}
	return true
}

// Reconcile merges a backfill batch into the window, deduplicating by
// openTime. Used after reconnection to close delivery gaps.
func (w *Window) Reconcile(batch []Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	merged := make(map[int64]Candle, len(w.candles)+len(batch))
	order := make([]int64, 0, len(w.candles)+len(batch))
	for _, c := range w.candles {
		key := c.OpenTime.UnixMilli()
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = c
	}
	for _, c := range batch {
		key := c.OpenTime.UnixMilli()
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = c // backfill is authoritative for overlaps
	}

	sortInt64s(order)
	candles := make([]Candle, 0, len(order))
	for _, key := range order {
		candles = append(candles, merged[key])
	}
	if len(candles) > w.retention {
		candles = candles[len(candles)-w.retention:]
	}
	w.candles = candles
}

// Snapshot returns a copy of the current candle sequence
func (w *Window) Snapshot() []Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Last returns the most recent candle and whether one exists
func (w *Window) Last() (Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Len returns the number of candles in the window
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Contains reports whether a candle with the given openTime is present
func (w *Window) Contains(openTime time.Time) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.candles) - 1; i >= 0; i-- {
		if w.candles[i].OpenTime.Equal(openTime) {
			return true
		}
		if w.candles[i].OpenTime.Before(openTime) {
			return false
		}
	}
	return false
}

// Closes returns the close series of a candle snapshot
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high series of a candle snapshot
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows returns the low series of a candle snapshot
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func sortInt64s(a []int64) {
	// insertion sort; batches are near-sorted and small
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
