package broker

import "time"

// The host exchanges timestamps as OLE automation dates: fractional days
// since Dec 30, 1899. The Unix epoch is day 25569 on that axis.
const unixEpochDate = 25569.0

const nanosPerDay = 24 * 60 * 60 * 1e9

// ToDate converts a time to the host's day-fraction convention.
func ToDate(t time.Time) float64 {
	return float64(t.UnixNano())/nanosPerDay + unixEpochDate
}

// FromDate converts a host day-fraction timestamp to a UTC time.
func FromDate(d float64) time.Time {
	nanos := (d - unixEpochDate) * nanosPerDay
	return time.Unix(0, int64(nanos)).UTC()
}
