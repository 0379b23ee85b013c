package xcpd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Recorder persists classified outcomes.
type Recorder interface {
	Record(ctx context.Context, o *Outcome) error
}

// Execer is the subset of pgxpool.Pool and pgx.Tx the recorder needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRecorder appends outcomes to the xcpd_outcome table.
type PGRecorder struct {
	db Execer
}

// NewPGRecorder creates a recorder writing through db, normally a
// *pgxpool.Pool.
func NewPGRecorder(db Execer) *PGRecorder {
	return &PGRecorder{db: db}
}

// Record inserts o. The full outcome is stored as JSON next to the columns
// used for lookups.
func (r *PGRecorder) Record(ctx context.Context, o *Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("xcpd: marshal outcome %s: %w", o.ID, err)
	}

	var responded *time.Time
	if ts, err := time.Parse(time.RFC3339Nano, o.ResponseTimestamp); err == nil {
		responded = &ts
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO xcpd_outcome (
			request_id, gateway_home_community_id, patient_id,
			kind, patient_match, response_timestamp, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Gateway.HomeCommunityID, o.PatientID,
		o.Kind.String(), o.PatientMatch, responded, payload,
	)
	if err != nil {
		return fmt.Errorf("xcpd: record outcome %s: %w", o.ID, err)
	}
	return nil
}
