package reconciliation

import "time"

// MinGranularity is the narrowest window the ledger endpoint can address.
const MinGranularity = time.Minute

// Window is the half-open ledger interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window width.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Splittable reports whether the window is wider than the minimum granularity.
func (w Window) Splittable() bool {
	return w.Duration() > MinGranularity
}

// Split halves the window on a minute boundary. Both halves are non-empty for any splittable window.
func (w Window) Split() (Window, Window) {
	mid := w.Start.Add((w.Duration() / 2).Truncate(MinGranularity))
	if !mid.After(w.Start) {
		mid = w.Start.Add(MinGranularity)
	}
	return Window{Start: w.Start, End: mid}, Window{Start: mid, End: w.End}
}

// seedWindows covers [start, end) with consecutive windows of the given width; the last one may be shorter.
func seedWindows(start, end time.Time, width time.Duration) []Window {
	if width < MinGranularity {
		width = MinGranularity
	}
	var out []Window
	for cursor := start; cursor.Before(end); cursor = cursor.Add(width) {
		next := cursor.Add(width)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cursor, End: next})
	}
	return out
}
