package models

import "time"

// Reading represents a single decoded meter report.
type Reading struct {
	DeviceID       string    `db:"device_id" json:"device_id"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	VolumeM3       float64   `db:"volume_m3" json:"volume_m3"`
	BatteryPercent float64   `db:"battery_percent" json:"battery_percent"`
	LeakFlag       bool      `db:"leak_flag" json:"leak_flag"`
	TamperFlag     bool      `db:"tamper_flag" json:"tamper_flag"`
}

// ReadingSeries holds readings most-recent-first, as returned by the store.
type ReadingSeries []Reading

// Latest returns the most recent reading, if any.
func (s ReadingSeries) Latest() (Reading, bool) {
	if len(s) == 0 {
		return Reading{}, false
	}
	return s[0], true
}

// Ascending returns a copy ordered oldest-first for trend charts.
func (s ReadingSeries) Ascending() ReadingSeries {
	out := make(ReadingSeries, len(s))
	for i, r := range s {
		out[len(s)-1-i] = r
	}
	return out
}
