package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"class-meet-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// MeetingRepository is the write-through sink for meeting lifecycle events.
// Every method is best-effort from the caller's point of view; the live
// room never waits on it.
type MeetingRepository struct {
	pool *pgxpool.Pool
}

func NewMeetingRepository(pool *pgxpool.Pool) *MeetingRepository {
	return &MeetingRepository{pool: pool}
}

func (r *MeetingRepository) MeetingCreated(ctx context.Context, roomID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO meetings (meeting_id, title, status) VALUES ($1, 'Class Session', 'active')
		 ON CONFLICT (meeting_id) DO NOTHING`, roomID)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (r *MeetingRepository) SaveTranscript(ctx context.Context, roomID string, t domain.Transcript) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcripts (meeting_id, transcript_id, raw_text, summary, duration, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		roomID, t.ID, t.RawText, t.Summary, t.Duration, t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (r *MeetingRepository) SaveSummary(ctx context.Context, roomID string, s domain.ClassSummary, tally domain.Tally) error {
	payload, err := json.Marshal(struct {
		domain.ClassSummary
		Sentiment domain.Tally `json:"sentiment"`
	}{s, tally})
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO class_summaries (meeting_id, data, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (meeting_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		roomID, payload)
	if err != nil {
		return fmt.Errorf("upsert class summary: %w", err)
	}
	return nil
}
