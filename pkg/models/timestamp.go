package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the on-disk format: local time with microseconds and no
// zone offset.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// DisplayLayout is used when timestamps are shown to the user.
const DisplayLayout = "2006/01/02 15:04:05"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp wraps time.Time with the log file's encoding.
type Timestamp struct {
	time.Time
}

// NewTimestamp converts t to local time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Local()}
}

// TimestampPtr is a convenience for optional fields.
func TimestampPtr(t time.Time) *Timestamp {
	ts := NewTimestamp(t)
	return &ts
}

// ParseTimestamp accepts the on-disk layout as well as RFC 3339.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range parseLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// String returns the on-disk representation.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}

// Display formats the timestamp for the UI.
func (t Timestamp) Display() string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(DisplayLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FormatDisplay formats a raw timestamp string for display, returning the
// input unchanged when it cannot be parsed.
func FormatDisplay(raw string) string {
	if raw == "" {
		return ""
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return raw
	}
	return ts.Display()
}
