package model

import (
	"fmt"
	"time"
)

// Descriptor is the resolved metadata of a single Maildir message.
type Descriptor struct {
	ID         string
	Path       string
	Subject    string
	Date       string
	ResolvedAt int64
	Seen       bool
	Flagged    bool
}

// Time returns the resolved message date.
func (d Descriptor) Time() time.Time {
	return time.Unix(d.ResolvedAt, 0)
}

// String identifies the message in logs as id/date/subject.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s/%s", d.ID, d.Date, d.Subject)
}
