package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/model"
)

// timeLayout is fixed-width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeParams(raw []byte, e *model.Edge) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, &e.Params); err != nil {
		return eris.Wrapf(err, "decode params of edge %s", e.ID)
	}
	return nil
}

func decodeEvidence(raw []byte) (*model.Evidence, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ev model.Evidence
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, eris.Wrap(err, "decode evidence")
	}
	return &ev, nil
}

func parseImpact(downtime, energyLost string) (model.Impact, error) {
	var (
		im  model.Impact
		err error
	)
	if im.DowntimeHours, err = decimal.NewFromString(downtime); err != nil {
		return im, eris.Wrap(err, "parse downtime hours")
	}
	if im.EnergyLostMWh, err = decimal.NewFromString(energyLost); err != nil {
		return im, eris.Wrap(err, "parse energy lost")
	}
	return im, nil
}
