package store

import (
	"testing"
	"time"
)

func TestNewTimestampFieldsAgree(t *testing.T) {
	instant := time.Date(2024, 11, 3, 14, 22, 9, 500_000_000, time.FixedZone("CET", 3600))
	ts := NewTimestamp(instant)

	if ts.Year != 2024 || ts.Month != 11 || ts.Day != 3 {
		t.Errorf("date fields = %d-%d-%d, want 2024-11-3", ts.Year, ts.Month, ts.Day)
	}
	if ts.Hour != 14 || ts.Minute != 22 || ts.Second != 9 {
		t.Errorf("time fields = %d:%d:%d, want 14:22:9", ts.Hour, ts.Minute, ts.Second)
	}
	if ts.TimeZoneOffset != 3600 {
		t.Errorf("zone offset = %d, want 3600", ts.TimeZoneOffset)
	}
	if !ts.Consistent() {
		t.Error("constructed timestamp must be consistent")
	}
	if sub := instant.Truncate(time.Second).Unix(); ts.UnixEpoch != sub {
		t.Errorf("epoch = %d, want %d", ts.UnixEpoch, sub)
	}
}

func TestTimestampEqualComparesEveryField(t *testing.T) {
	base := NewTimestamp(time.Date(2024, 11, 3, 14, 22, 9, 0, time.UTC))

	same := base
	if !base.Equal(same) {
		t.Fatal("identical timestamps must be equal")
	}

	// Same instant expressed in a different zone: epoch matches, the
	// calendar fields do not. The comparator must reject it.
	shifted := NewTimestamp(time.Date(2024, 11, 3, 15, 22, 9, 0, time.FixedZone("CET", 3600)))
	if shifted.UnixEpoch != base.UnixEpoch {
		t.Fatalf("test setup broken: epochs differ (%d vs %d)", shifted.UnixEpoch, base.UnixEpoch)
	}
	if base.Equal(shifted) {
		t.Error("same epoch with diverging sub-fields must not compare equal")
	}

	tweaked := base
	tweaked.Minute++
	if base.Equal(tweaked) {
		t.Error("single sub-field divergence must not compare equal")
	}
}

func TestTimestampConsistentRejectsHandAssembled(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 11, 3, 14, 22, 9, 0, time.UTC))
	ts.Day = 4
	if ts.Consistent() {
		t.Error("calendar fields disagreeing with the epoch must be inconsistent")
	}
}

func TestTimestampAfter(t *testing.T) {
	early := NewTimestamp(time.Date(2024, 11, 3, 14, 22, 9, 0, time.UTC))
	late := NewTimestamp(time.Date(2024, 11, 3, 14, 22, 10, 0, time.UTC))

	if !late.After(early) {
		t.Error("later instant must compare after")
	}
	if early.After(late) || early.After(early) {
		t.Error("After must be strict")
	}
}

func TestTimestampRoundTripThroughTime(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 6, 1, 8, 0, 30, 0, time.FixedZone("", -18000)))
	again := NewTimestamp(ts.Time())
	if !ts.Equal(again) {
		t.Errorf("round trip changed the timestamp: %+v vs %+v", ts, again)
	}
}

func TestTimestampScanAndValue(t *testing.T) {
	var ts Timestamp
	if err := ts.Scan(nil); err != nil {
		t.Fatalf("scan nil failed: %v", err)
	}
	if !ts.IsZero() {
		t.Error("scanning NULL must yield the zero timestamp")
	}

	instant := time.Date(2024, 6, 1, 8, 0, 30, 0, time.UTC)
	if err := ts.Scan(instant); err != nil {
		t.Fatalf("scan time failed: %v", err)
	}
	if ts.UnixEpoch != instant.Unix() {
		t.Errorf("scanned epoch = %d, want %d", ts.UnixEpoch, instant.Unix())
	}

	value, err := ts.Value()
	if err != nil {
		t.Fatalf("value failed: %v", err)
	}
	if got, ok := value.(time.Time); !ok || got.Unix() != instant.Unix() {
		t.Errorf("value = %v, want instant %v", value, instant)
	}

	var zero Timestamp
	nullValue, err := zero.Value()
	if err != nil {
		t.Fatalf("zero value failed: %v", err)
	}
	if nullValue != nil {
		t.Error("zero timestamp must store as NULL")
	}

	if err := ts.Scan("2024-06-01"); err == nil {
		t.Error("scanning an unsupported type must fail")
	}
}
