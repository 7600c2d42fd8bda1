package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Granularity is the length of an evaluation period.
type Granularity string

const (
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
	Annual    Granularity = "annual"
)

// Valid reports whether g is a declared granularity.
func (g Granularity) Valid() bool {
	switch g {
	case Monthly, Quarterly, Annual:
		return true
	}
	return false
}

// Period is a half-open UTC interval [Start, End) aligned to its granularity.
type Period struct {
	Granularity Granularity `json:"granularity"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
}

// PeriodOf returns the period of granularity g that contains t.
func PeriodOf(g Granularity, t time.Time) (Period, error) {
	t = t.UTC()
	var start, end time.Time
	switch g {
	case Monthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	case Quarterly:
		q := (int(t.Month()) - 1) / 3
		start = time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 3, 0)
	case Annual:
		start = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(1, 0, 0)
	default:
		return Period{}, eris.Errorf("model: unknown granularity %q", g)
	}
	return Period{Granularity: g, Start: start, End: end}, nil
}

// ParsePeriod parses a period key: "2025-03" (monthly), "2025-Q1"
// (quarterly) or "2025" (annual).
func ParsePeriod(key string) (Period, error) {
	key = strings.TrimSpace(key)
	switch {
	case len(key) == 4:
		y, err := strconv.Atoi(key)
		if err != nil {
			return Period{}, eris.Errorf("model: invalid period %q", key)
		}
		return PeriodOf(Annual, time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC))
	case len(key) == 7 && key[4] == '-' && (key[5] == 'Q' || key[5] == 'q'):
		y, err := strconv.Atoi(key[:4])
		if err != nil {
			return Period{}, eris.Errorf("model: invalid period %q", key)
		}
		q, err := strconv.Atoi(key[6:])
		if err != nil || q < 1 || q > 4 {
			return Period{}, eris.Errorf("model: invalid quarter in %q", key)
		}
		return PeriodOf(Quarterly, time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC))
	case len(key) == 7 && key[4] == '-':
		t, err := time.Parse("2006-01", key)
		if err != nil {
			return Period{}, eris.Errorf("model: invalid period %q", key)
		}
		return PeriodOf(Monthly, t)
	}
	return Period{}, eris.Errorf("model: invalid period %q", key)
}

// Key returns the canonical period key accepted by ParsePeriod.
func (p Period) Key() string {
	switch p.Granularity {
	case Monthly:
		return p.Start.Format("2006-01")
	case Quarterly:
		return fmt.Sprintf("%d-Q%d", p.Start.Year(), (int(p.Start.Month())-1)/3+1)
	case Annual:
		return strconv.Itoa(p.Start.Year())
	}
	return p.Start.Format(time.RFC3339) + "/" + p.End.Format(time.RFC3339)
}

func (p Period) String() string { return p.Key() }

// Duration is the length of the period.
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Hours is the length of the period in hours.
func (p Period) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(p.Duration() / time.Second)).Div(decimal.NewFromInt(3600))
}

// Contains reports whether t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Intersects reports whether the closed window [from, to] touches the period.
// A zero-length window at from counts when from is inside the period.
func (p Period) Intersects(from, to time.Time) bool {
	if to.Before(from) {
		return false
	}
	if from.Equal(to) {
		return p.Contains(from)
	}
	return from.Before(p.End) && to.After(p.Start)
}
