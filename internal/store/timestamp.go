package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Timestamp is a document's content-revision timestamp, carried with every
// calendar sub-field broken out. External renderers serialize the fields
// individually, so validity checks compare all of them, not just the epoch.
type Timestamp struct {
	UnixEpoch int64 `json:"unixEpoch"`
	Year      int   `json:"year"`
	Month     int   `json:"month"`
	Day       int   `json:"day"`
	Hour      int   `json:"hour"`
	Minute    int   `json:"minute"`
	Second    int   `json:"second"`
	// TimeZoneOffset is seconds east of UTC at the instant.
	TimeZoneOffset int `json:"timeZoneOffset"`
}

// NewTimestamp derives every sub-field from one instant, truncated to
// whole seconds so that the fields and the epoch always agree.
func NewTimestamp(t time.Time) Timestamp {
	t = t.Truncate(time.Second)
	_, offset := t.Zone()
	return Timestamp{
		UnixEpoch:      t.Unix(),
		Year:           t.Year(),
		Month:          int(t.Month()),
		Day:            t.Day(),
		Hour:           t.Hour(),
		Minute:         t.Minute(),
		Second:         t.Second(),
		TimeZoneOffset: offset,
	}
}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// Time reconstructs the instant in its original zone offset.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.UnixEpoch, 0).In(time.FixedZone("", ts.TimeZoneOffset))
}

// Equal reports whether every sub-field matches.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts == other
}

func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

// Consistent reports whether the calendar fields agree with the epoch and
// zone offset. A false result means the record was assembled by hand or
// corrupted in transit.
func (ts Timestamp) Consistent() bool {
	return ts == NewTimestamp(ts.Time())
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.UnixEpoch > other.UnixEpoch
}

// Value stores the timestamp as timestamptz.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.Time(), nil
}

// Scan reads a timestamptz back into the broken-out form.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
		return nil
	case time.Time:
		*ts = NewTimestamp(v)
		return nil
	default:
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
}
