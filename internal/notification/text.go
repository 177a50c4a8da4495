package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const digestDateLayout = "Jan 2, 3:04 PM"

func approachingMessage(title string, due, now time.Time) string {
	return fmt.Sprintf(`"%s" is due in %s`, title, span(now, due))
}

func overdueMessage(title string, due, now time.Time) string {
	return fmt.Sprintf(`Task "%s" is overdue by %s`, title, span(due, now))
}

// span renders the distance between a and b as "1 hour", "45 minutes", "3 days".
func span(a, b time.Time) string {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		return "a moment"
	}
	return strings.TrimSpace(humanize.RelTime(a, b, "", ""))
}
