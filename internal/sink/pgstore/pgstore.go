// Package pgstore implements a [sink.Sink] that stores segments in
// PostgreSQL, audio included, and offers simple lookups for tooling.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Schema is the SQL DDL for the speech_segments table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS speech_segments (
    id          TEXT PRIMARY KEY,
    stream_id   TEXT NOT NULL,
    start_ms    BIGINT NOT NULL,
    end_ms      BIGINT NOT NULL,
    duration_ms BIGINT NOT NULL,
    sample_rate INTEGER NOT NULL,
    channels    SMALLINT NOT NULL,
    pcm         BYTEA,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_speech_segments_stream ON speech_segments(stream_id, start_ms);
`

// ErrNotFound is returned by [Store.Get] for an unknown segment id.
var ErrNotFound = errors.New("pgstore: segment not found")

// DB is the database interface used by [Store]. *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Record is a stored segment.
type Record struct {
	pipeline.Segment
	StreamID  string
	CreatedAt time.Time
}

// Store is a [sink.Sink] backed by a PostgreSQL database.
type Store struct {
	db    DB
	close func()
}

var (
	_ sink.Sink   = (*Store)(nil)
	_ sink.Pinger = (*Store)(nil)
)

// New returns a store using db. The caller is responsible for calling
// [Store.Migrate] to ensure the schema exists before writing.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn and, when migrate is set, applies [Schema].
// The pool is closed by [Store.Close].
func Open(ctx context.Context, dsn string, migrate bool) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Name implements [sink.Sink].
func (s *Store) Name() string { return "postgres" }

// Write implements [sink.Sink]. Writing a segment id twice keeps the first
// row, so retries through a fallback chain are harmless.
func (s *Store) Write(ctx context.Context, seg pipeline.Segment) error {
	const query = `
		INSERT INTO speech_segments (
			id, stream_id, start_ms, end_ms, duration_ms, sample_rate, channels, pcm
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`

	var pcm []byte
	if seg.PCM != nil {
		pcm = audio.Int16ToBytes(seg.PCM)
	}
	_, err := s.db.Exec(ctx, query,
		seg.ID, sink.StreamFromContext(ctx),
		seg.Start.Milliseconds(), seg.End.Milliseconds(), seg.Duration.Milliseconds(),
		seg.SampleRate, seg.Channels, pcm,
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert %s: %w", seg.ID, err)
	}
	return nil
}

// Get returns the segment with id, or [ErrNotFound].
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT id, stream_id, start_ms, end_ms, duration_ms, sample_rate, channels, pcm, created_at
		FROM speech_segments
		WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("pgstore: get %q: %w", id, err)
	}
	return rec, nil
}

// ListByStream returns up to limit segments of stream ordered by start time.
// Audio is not loaded. A limit of zero or less returns every segment.
func (s *Store) ListByStream(ctx context.Context, stream string, limit int) ([]Record, error) {
	const query = `
		SELECT id, stream_id, start_ms, end_ms, duration_ms, sample_rate, channels, NULL::bytea, created_at
		FROM speech_segments
		WHERE stream_id = $1
		ORDER BY start_ms
		LIMIT $2`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, stream, lim)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list %q: %w", stream, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: list scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list %q: %w", stream, err)
	}
	return recs, nil
}

// Ping implements [sink.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("pgstore: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool opened by [Open].
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                   Record
		startMs, endMs, durMs int64
		sampleRate, channels  int
		pcm                   []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.StreamID, &startMs, &endMs, &durMs,
		&sampleRate, &channels, &pcm, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Start = time.Duration(startMs) * time.Millisecond
	rec.End = time.Duration(endMs) * time.Millisecond
	rec.Duration = time.Duration(durMs) * time.Millisecond
	rec.SampleRate = sampleRate
	rec.Channels = channels
	if pcm != nil {
		rec.PCM = audio.BytesToInt16(pcm)
	}
	return &rec, nil
}
