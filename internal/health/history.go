package health

import "time"

// HistoryConfig bounds each sensor's history. Either bound may be zero to
// disable it.
type HistoryConfig struct {
	MaxRecords int
	Retention  time.Duration
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxRecords: 100,
		Retention:  24 * time.Hour,
	}
}

type history struct {
	records []Record
}

// append adds r, forcing its timestamp past the previous record, and evicts
// the oldest records that fall outside either bound.
func (h *history) append(r Record, cfg HistoryConfig) Record {
	if n := len(h.records); n > 0 {
		if last := h.records[n-1].Timestamp; !r.Timestamp.After(last) {
			r.Timestamp = last.Add(time.Nanosecond)
		}
	}

	h.records = append(h.records, r)

	if cfg.Retention > 0 {
		cutoff := r.Timestamp.Add(-cfg.Retention)
		drop := 0
		for drop < len(h.records)-1 && h.records[drop].Timestamp.Before(cutoff) {
			drop++
		}
		h.records = h.records[drop:]
	}

	if cfg.MaxRecords > 0 && len(h.records) > cfg.MaxRecords {
		h.records = h.records[len(h.records)-cfg.MaxRecords:]
	}

	return r
}

func (h *history) last() *Record {
	if len(h.records) == 0 {
		return nil
	}
	r := h.records[len(h.records)-1]

	return &r
}

// since returns a copy of the records at or after cutoff; a zero cutoff
// returns everything.
func (h *history) since(cutoff time.Time) []Record {
	start := 0
	if !cutoff.IsZero() {
		for start < len(h.records) && h.records[start].Timestamp.Before(cutoff) {
			start++
		}
	}

	out := make([]Record, len(h.records)-start)
	copy(out, h.records[start:])

	return out
}
