package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/session"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// SessionSummary is a persisted session report with its delivery outcome.
type SessionSummary struct {
	ID                 string               `json:"id"`
	SessionID          string               `json:"session_id"`
	SubjectID          string               `json:"user_id"`
	ProgramID          string               `json:"program_id"`
	Exercise           string               `json:"exercise"`
	Deviations         *deviation.Set       `json:"deviations"`
	TotalErrors        int                  `json:"total_errors"`
	FramesProcessed    int                  `json:"frames_processed"`
	Labels             []session.LabelStats `json:"labels"`
	TrajectoryDistance float64              `json:"trajectory_distance"`
	StartedAt          time.Time            `json:"session_start_time"`
	EndedAt            time.Time            `json:"session_end_time"`
	Delivered          bool                 `json:"delivered"`
	DeliveryError      string               `json:"delivery_error,omitempty"`
	DeliveredAt        *time.Time           `json:"delivered_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// SummaryRepository stores session summaries.
type SummaryRepository struct {
	db *sql.DB
}

// Summaries returns the summary repository for this store.
func (s *Store) Summaries() *SummaryRepository {
	return &SummaryRepository{db: s.db}
}

const summaryColumns = `id, session_id, subject_id, program_id, exercise, deviations, total_errors,
	frames_processed, labels, trajectory_distance, started_at, ended_at,
	delivered, delivery_error, delivered_at, created_at`

// Create persists a new, undelivered summary and returns the stored record.
func (r *SummaryRepository) Create(s *session.Summary) (*SessionSummary, error) {
	devs := s.Deviations
	if devs == nil {
		devs = &deviation.Set{}
	}
	devJSON, err := json.Marshal(devs)
	if err != nil {
		return nil, fmt.Errorf("encode deviations: %w", err)
	}

	labels := s.Labels
	if labels == nil {
		labels = []session.LabelStats{}
	}
	labelJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}

	rec := &SessionSummary{
		ID:                 uuid.New().String(),
		SessionID:          s.SessionID,
		SubjectID:          s.SubjectID,
		ProgramID:          s.ProgramID,
		Exercise:           s.Exercise,
		Deviations:         devs.Clone(),
		TotalErrors:        s.TotalErrors,
		FramesProcessed:    s.FramesProcessed,
		Labels:             labels,
		TrajectoryDistance: s.TrajectoryDistance,
		StartedAt:          s.StartedAt.UTC(),
		EndedAt:            s.EndedAt.UTC(),
		CreatedAt:          time.Now().UTC(),
	}

	_, err = r.db.Exec(
		`INSERT INTO session_summaries (id, session_id, subject_id, program_id, exercise, deviations,
			total_errors, frames_processed, labels, trajectory_distance, started_at, ended_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.SubjectID, rec.ProgramID, rec.Exercise, string(devJSON),
		rec.TotalErrors, rec.FramesProcessed, string(labelJSON), rec.TrajectoryDistance,
		rec.StartedAt, rec.EndedAt, rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// SetDelivery records the outcome of delivering a summary. A nil deliveryErr
// marks it delivered.
func (r *SummaryRepository) SetDelivery(id string, deliveryErr error) error {
	var (
		result sql.Result
		err    error
	)
	if deliveryErr == nil {
		result, err = r.db.Exec(
			`UPDATE session_summaries SET delivered = 1, delivery_error = '', delivered_at = ? WHERE id = ?`,
			time.Now().UTC(), id,
		)
	} else {
		result, err = r.db.Exec(
			`UPDATE session_summaries SET delivered = 0, delivery_error = ? WHERE id = ?`,
			deliveryErr.Error(), id,
		)
	}
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a summary by its ID.
func (r *SummaryRepository) GetByID(id string) (*SessionSummary, error) {
	row := r.db.QueryRow(`SELECT `+summaryColumns+` FROM session_summaries WHERE id = ?`, id)

	rec, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	SubjectID string
	Limit     int
}

// List retrieves summaries, most recently ended first. Times are stored in UTC
// so they sort correctly as text.
func (r *SummaryRepository) List(f ListFilter) ([]*SessionSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM session_summaries`
	var args []any
	if f.SubjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, f.SubjectID)
	}
	query += ` ORDER BY ended_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionSummary
	for rows.Next() {
		rec, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Delete removes a summary by its ID.
func (r *SummaryRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM session_summaries WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*SessionSummary, error) {
	rec := &SessionSummary{}
	var (
		devJSON     string
		labelJSON   string
		delivered   int
		deliveredAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.SubjectID, &rec.ProgramID, &rec.Exercise, &devJSON,
		&rec.TotalErrors, &rec.FramesProcessed, &labelJSON, &rec.TrajectoryDistance,
		&rec.StartedAt, &rec.EndedAt, &delivered, &rec.DeliveryError, &deliveredAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Deviations = &deviation.Set{}
	if err := json.Unmarshal([]byte(devJSON), rec.Deviations); err != nil {
		return nil, fmt.Errorf("decode deviations of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(labelJSON), &rec.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of %s: %w", rec.ID, err)
	}
	rec.Delivered = delivered != 0
	if deliveredAt.Valid {
		t := deliveredAt.Time
		rec.DeliveredAt = &t
	}

	return rec, nil
}
