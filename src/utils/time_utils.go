package utils

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	GranularityMinute = "minute"
	GranularityHour   = "hour"
)

// ResetTime truncates t to the start of its minute or hour.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	default:
		logger.WithField("granularity", granularity).Warn("Invalid granularity, expected minute or hour")
		return t
	}
}
