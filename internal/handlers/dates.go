package handlers

import (
	"strings"
	"time"
)

// parseDate resolves free-text dates in loc. Anything it cannot read falls back to now.
func parseDate(text string, now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	text = strings.ToLower(strings.TrimSpace(text))
	switch text {
	case "", "hoje", "agora":
		return now
	case "ontem":
		return now.AddDate(0, 0, -1)
	case "anteontem":
		return now.AddDate(0, 0, -2)
	}

	for _, layout := range []string{"02/01/2006", "2/1/2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return atClock(t, now)
		}
	}
	for _, layout := range []string{"02/01", "2/1"} {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return atClock(time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), now)
		}
	}
	return now
}

// parseDueDate is parseDate without the fallback, for optional fields.
func parseDueDate(text string, now time.Time, loc *time.Location) *time.Time {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	t := parseDate(text, now, loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return &day
}

func atClock(day, now time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location())
}
