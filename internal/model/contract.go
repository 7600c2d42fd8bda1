package model

import "time"

// Contract is the owning agreement of a set of clauses.
type Contract struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	Currency      string     `json:"currency,omitempty"`
}

// ContractYear returns the 1-based contract year containing t. Without an
// effective date every instant falls in year 1.
func (c Contract) ContractYear(t time.Time) int {
	if c.EffectiveDate == nil {
		return 1
	}
	eff := c.EffectiveDate.UTC()
	t = t.UTC()
	if t.Before(eff) {
		return 1
	}
	years := t.Year() - eff.Year()
	if eff.AddDate(years, 0, 0).After(t) {
		years--
	}
	return years + 1
}

// ContractYearWindow returns the [start, end) bounds of the contract year
// containing t, so that the window holds exactly the instants ContractYear
// assigns to that year. Year 1 also holds every instant before the effective
// date and is returned with a zero start. Without an effective date the
// calendar year of t is used.
func (c Contract) ContractYearWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	if c.EffectiveDate == nil {
		start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0)
	}
	eff := c.EffectiveDate.UTC()
	year := c.ContractYear(t)
	end := eff.AddDate(year, 0, 0)
	if year == 1 {
		return time.Time{}, end
	}
	return eff.AddDate(year-1, 0, 0), end
}
