package recovery

import (
	"sync"
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

type occurrence struct {
	key string
	at  time.Time
}

// history is a fixed-size ring of recent error occurrences
type history struct {
	mu      sync.Mutex
	entries []occurrence
	next    int
	size    int
}

func newHistory(capacity int) *history {
	return &history{entries: make([]occurrence, capacity)}
}

// record appends an occurrence, overwriting the oldest when full, and
// returns the frequency analysis including it
func (h *history) record(key string, at time.Time, cfg ClassifierConfig) failure.Frequency {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = occurrence{key: key, at: at}
	h.next = (h.next + 1) % len(h.entries)
	if h.size < len(h.entries) {
		h.size++
	}

	return h.analyzeLocked(key, at, cfg)
}

func (h *history) analyze(key string, now time.Time, cfg ClassifierConfig) failure.Frequency {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.analyzeLocked(key, now, cfg)
}

func (h *history) analyzeLocked(key string, now time.Time, cfg ClassifierConfig) failure.Frequency {
	f := failure.Frequency{Key: key, Total: h.size, Level: failure.FrequencyNormal}
	if h.size == 0 {
		return f
	}

	windowStart := now.Add(-cfg.TrendWindow)
	for i := 0; i < h.size; i++ {
		o := h.entries[i]
		if o.key != key {
			continue
		}
		f.Count++
		if !o.at.Before(windowStart) {
			f.RecentCount++
		}
	}

	f.Share = float64(f.Count) / float64(f.Total)
	f.Trending = f.RecentCount >= cfg.TrendThreshold

	switch {
	case f.Share >= cfg.HighFrequencyShare:
		f.Level = failure.FrequencyHigh
	case f.Share >= cfg.ModerateFrequencyShare:
		f.Level = failure.FrequencyModerate
	case f.Trending:
		f.Level = failure.FrequencyTrending
	}

	return f
}

// Len returns the number of occurrences held
func (h *history) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
