// Package recorder persists confirmed breaches and their verdicts exactly
// once per (obligation, period).
package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/store"
)

// ErrConcurrentWriteConflict is returned when another writer changed the
// active breach of the same (obligation, period) between check and write.
var ErrConcurrentWriteConflict = eris.New("recorder: concurrent write conflict")

// Writer is the store surface the recorder needs.
type Writer interface {
	ActiveBreach(ctx context.Context, obligationID, periodKey string) (*model.BreachRecord, error)
	WriteBreach(ctx context.Context, w store.BreachWrite) error
}

// Recorder writes breach records through a Writer.
type Recorder struct {
	w     Writer
	now   func() time.Time
	newID func() string
}

// New returns a Recorder over w.
func New(w Writer) *Recorder {
	return &Recorder{w: w, now: time.Now, newID: uuid.NewString}
}

// Record persists a confirmed breach and its consequences. Evidence that is
// not a breach writes nothing. An existing active breach is left untouched
// unless force is set, in which case it and its verdicts are superseded by
// the new pair in one transaction. The stored or existing breach is
// returned alongside the outcome.
func (r *Recorder) Record(ctx context.Context, ev model.Evidence, period model.Period, results []model.ConsequenceResult, force bool) (model.Outcome, *model.BreachRecord, error) {
	if !ev.Breached {
		return model.OutcomeCompliant, nil, nil
	}
	log := zap.L().With(
		zap.String("obligation", ev.ObligationID),
		zap.String("period", ev.PeriodKey),
	)

	existing, err := r.w.ActiveBreach(ctx, ev.ObligationID, ev.PeriodKey)
	if err != nil {
		return model.OutcomeError, nil, eris.Wrap(err, "recorder: load active breach")
	}
	if existing != nil && !force {
		log.Debug("recorder: breach already recorded", zap.String("breach_id", existing.ID))
		return model.OutcomeBreachUnchanged, existing, nil
	}

	digest, err := Digest(ev)
	if err != nil {
		return model.OutcomeError, nil, err
	}

	at := r.now().UTC()
	b := model.BreachRecord{
		ID:             r.newID(),
		ObligationID:   ev.ObligationID,
		ContractID:     ev.ContractID,
		PeriodKey:      ev.PeriodKey,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		Kind:           ev.Kind,
		Shortfall:      ev.Shortfall,
		Evidence:       ev,
		EvidenceDigest: digest,
		CreatedAt:      at,
	}
	verdicts := make([]model.VerdictRecord, 0, len(results))
	for _, res := range results {
		verdicts = append(verdicts, model.VerdictRecord{
			ID:             r.newID(),
			BreachID:       b.ID,
			ObligationID:   ev.ObligationID,
			ConsequenceID:  res.ConsequenceID,
			ContractID:     ev.ContractID,
			PeriodKey:      ev.PeriodKey,
			PeriodStart:    period.Start,
			Kind:           res.Kind,
			Amount:         res.Amount,
			Currency:       res.Currency,
			CureDeadline:   res.CureDeadline,
			PaymentDueDate: res.PaymentDueDate,
			Trace:          res.Trace,
			CreatedAt:      at,
		})
	}

	w := store.BreachWrite{Breach: b, Verdicts: verdicts, At: at}
	outcome := model.OutcomeBreachRecorded
	if existing != nil {
		w.Supersedes = existing.ID
		outcome = model.OutcomeBreachSuperseded
	}

	if err := r.w.WriteBreach(ctx, w); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.OutcomeError, nil, eris.Wrapf(ErrConcurrentWriteConflict, "recorder: %s/%s: %v", ev.ObligationID, ev.PeriodKey, err)
		}
		return model.OutcomeError, nil, eris.Wrap(err, "recorder: write breach")
	}

	log.Info("recorder: breach written",
		zap.String("breach_id", b.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("verdicts", len(verdicts)),
	)
	return outcome, &b, nil
}

// Digest returns the hex SHA-256 of the evidence in RFC 8785 canonical JSON.
func Digest(ev model.Evidence) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", eris.Wrap(err, "recorder: marshal evidence")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", eris.Wrap(err, "recorder: canonicalize evidence")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
