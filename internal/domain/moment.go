package domain

import "time"

// MomentStep is the primary time unit of the candle grid.
const MomentStep = 10 * time.Second

// AlignMoment floors a timestamp to the nearest 10-second boundary in UTC.
func AlignMoment(t time.Time) time.Time {
	return t.UTC().Truncate(MomentStep)
}

// IsMoment reports whether t sits exactly on a 10-second boundary.
func IsMoment(t time.Time) bool {
	return t.UTC().Truncate(MomentStep).Equal(t.UTC())
}

// PreviousMoment returns the last finished moment before t, i.e. the
// left edge of the bucket [T-10s, T) that closed at the aligned instant.
func PreviousMoment(t time.Time) time.Time {
	return AlignMoment(t).Add(-MomentStep)
}
