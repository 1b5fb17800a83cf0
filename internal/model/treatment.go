package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"salonagenda/internal/timegrid"
)

// Money is a currency amount in cents.
type Money int64

// ParseMoney parses "12", "12.5" or "12.50" into cents.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q: more than two decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	m := Money(w*100 + f)
	if neg {
		m = -m
	}
	return m, nil
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Treatment is a bookable service offered by the salon.
type Treatment struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Subtreatment is a priced variant of a treatment.
// Duration is informational; slot width comes from the grid.
type Subtreatment struct {
	ID          int64  `json:"id"`
	TreatmentID int64  `json:"treatment_id"`
	Name        string `json:"name"`
	DurationMin int    `json:"duration_min"`
	Price       Money  `json:"price"`
}

// WeekdayFlags marks which days of the week an availability window applies to.
type WeekdayFlags struct {
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
	Saturday  bool `json:"saturday"`
	Sunday    bool `json:"sunday"`
}

// Allows reports whether the flag for d is set.
func (w WeekdayFlags) Allows(d time.Weekday) bool {
	switch d {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	case time.Sunday:
		return w.Sunday
	}
	return false
}

// AllWeek returns flags with every day set.
func AllWeek() WeekdayFlags {
	return WeekdayFlags{true, true, true, true, true, true, true}
}

// TreatmentAvailability is a recurring bookable window for a treatment in one box.
// Dates are inclusive; the time range is [StartTime, EndTime).
type TreatmentAvailability struct {
	ID          int64          `json:"id"`
	TreatmentID int64          `json:"treatment_id"`
	StartDate   time.Time      `json:"start_date"`
	EndDate     time.Time      `json:"end_date"`
	StartTime   timegrid.Clock `json:"start_time"`
	EndTime     timegrid.Clock `json:"end_time"`
	Box         string         `json:"box"`
	Weekdays    *WeekdayFlags  `json:"weekdays,omitempty"`
}

// CoversDate reports whether date lies in [StartDate, EndDate].
func (a *TreatmentAvailability) CoversDate(date time.Time) bool {
	d := timegrid.DateKey(date)
	return timegrid.DateKey(a.StartDate) <= d && d <= timegrid.DateKey(a.EndDate)
}

// CoversTime reports whether at lies in [StartTime, EndTime).
func (a *TreatmentAvailability) CoversTime(at timegrid.Clock) bool {
	return at >= a.StartTime && at < a.EndTime
}

// Client, Professional and Product are reference entities maintained elsewhere.

type Client struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	ChatID string `json:"chat_id,omitempty"` // notification destination
}

type Professional struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price Money  `json:"price"`
}
