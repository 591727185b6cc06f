package date

import (
	"fmt"
	"strings"
)

// Period is a calendar granularity. Budgets cycle monthly or yearly;
// report ranges accept every granularity.
type Period int

const (
	Daily Period = iota
	Weekly
	Monthly
	Quarterly
	Yearly
)

func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Quarterly:
		return "quarterly"
	case Yearly:
		return "yearly"
	default:
		panic(fmt.Sprintf("unknown period %d", p))
	}
}

// ParsePeriod accepts the adjective and the noun form of each granularity
// ("monthly" or "month"), case-insensitively.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(s) {
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	case "quarterly", "quarter":
		return Quarterly, nil
	case "yearly", "year":
		return Yearly, nil
	default:
		return Daily, fmt.Errorf("unknown period %q", s)
	}
}

// Range is an inclusive span of days.
type Range struct{ From, To Date }

// NewRange returns the calendar period containing d: its ISO week for
// Weekly, its month for Monthly, and so on.
func NewRange(d Date, p Period) Range {
	return Range{From: d.StartOf(p), To: d.EndOf(p)}
}
