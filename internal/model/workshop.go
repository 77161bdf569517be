package model

import "time"

// Workshop は講師が主催するワークショップを表す。
type Workshop struct {
	ID           string
	Title        string
	Description  string
	Location     string
	StartsAt     time.Time
	EndsAt       time.Time
	Capacity     int
	InstructorID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
