package models

import "time"

// Device is a registered water meter.
type Device struct {
	ID        string    `db:"device_id" json:"device_id"`
	Name      string    `db:"name" json:"name,omitempty"`
	Location  string    `db:"location" json:"location,omitempty"`
	Status    string    `db:"status" json:"status,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}
