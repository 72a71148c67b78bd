package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS party_journal (
	id          UUID PRIMARY KEY,
	room_code   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	revision    BIGINT NOT NULL DEFAULT 0,
	sequence    BIGINT NOT NULL DEFAULT 0,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS party_journal_room_idx ON party_journal (room_code, created_at);
`

const (
	kindPlayback = "playback"
	kindChat     = "chat"
)

// Journal is an insert-only durable log of accepted playback revisions and
// chat messages. It exists for crash recovery and audit; the service is
// correct without it.
type Journal struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the journal table exists.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	log.Info().Msg("journal database ready")
	return &Journal{pool: pool}, nil
}

// Close releases the pool.
func (j *Journal) Close() {
	j.pool.Close()
}

// AppendPlayback records an accepted playback revision.
func (j *Journal) AppendPlayback(ctx context.Context, roomCode string, st events.PlaybackState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal playback state: %w", err)
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO party_journal (id, room_code, kind, revision, payload) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), roomCode, kindPlayback, int64(st.Revision), payload)
	if err != nil {
		return fmt.Errorf("insert playback journal entry: %w", err)
	}
	return nil
}

// AppendChat records an accepted chat message.
func (j *Journal) AppendChat(ctx context.Context, msg events.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO party_journal (id, room_code, kind, sequence, payload) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), msg.RoomCode, kindChat, int64(msg.Sequence), payload)
	if err != nil {
		return fmt.Errorf("insert chat journal entry: %w", err)
	}
	return nil
}
