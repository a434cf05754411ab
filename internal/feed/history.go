package feed

import "time"

// Sample is one external spot-price observation.
type Sample struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`

	assetTag string
}

// History is a fixed-size rolling window of samples, newest last. It is
// not safe for concurrent use; the Feed hands out copies.
type History struct {
	samples []Sample
	max     int
}

// NewHistory creates a window holding at most max samples.
func NewHistory(max int) *History {
	if max < 2 {
		max = 2
	}
	return &History{max: max}
}

// Push appends a sample, evicting the oldest when full.
func (h *History) Push(s Sample) {
	h.samples = append(h.samples, s)
	if len(h.samples) > h.max {
		h.samples = h.samples[len(h.samples)-h.max:]
	}
}

// Len reports how many samples the window currently holds.
func (h *History) Len() int {
	return len(h.samples)
}

// Latest returns the newest sample.
func (h *History) Latest() (Sample, bool) {
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Change returns the fractional price move over the last window samples
// ((newest-oldest)/oldest). It reports false when the window is not yet
// filled enough to be meaningful.
func (h *History) Change(window int) (float64, bool) {
	if window < 2 || len(h.samples) < window {
		return 0, false
	}
	old := h.samples[len(h.samples)-window].Price
	cur := h.samples[len(h.samples)-1].Price
	if old <= 0 {
		return 0, false
	}
	return (cur - old) / old, true
}

// Clone returns an independent copy of the window.
func (h *History) Clone() *History {
	cp := &History{max: h.max, samples: make([]Sample, len(h.samples))}
	copy(cp.samples, h.samples)
	return cp
}
