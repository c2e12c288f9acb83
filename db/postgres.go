// Package db archives finished meeting reports in Postgres.
package db

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"node.town/parley/session"
	"node.town/parley/transcript"
	"node.town/parley/usage"
)

//go:embed db_init.sql
var sqlFS embed.FS

var ErrNotFound = errors.New("meeting not found")

type Archive struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects and makes sure the schema exists.
func Open(ctx context.Context, url string, logger *log.Logger) (*Archive, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	sqlFile, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read embedded db_init.sql: %w", err)
	}
	if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute embedded db_init.sql: %w", err)
	}

	return &Archive{pool: pool, logger: logger}, nil
}

func (a *Archive) Close() {
	a.pool.Close()
}

// Archive stores a report and its segments in one transaction.
func (a *Archive) Archive(ctx context.Context, r session.Report) error {
	usageJSON, err := json.Marshal(r.Usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO meetings (id, started_at, ended_at, summary, usage)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET ended_at = EXCLUDED.ended_at,
		    summary = EXCLUDED.summary,
		    usage = EXCLUDED.usage`,
		r.ID, r.Started, r.Ended, r.Summary, usageJSON,
	)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE meeting_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	batch := &pgx.Batch{}
	for i, seg := range r.Transcript.Segments {
		batch.Queue(`
			INSERT INTO segments (meeting_id, seq, speaker, start_s, end_s, text)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, i, seg.Speaker, seg.Start, seg.End, seg.Text,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert segments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.logger.Info("archived", "meeting", r.ID, "segments", r.Transcript.Len())
	return nil
}

// Meeting is one row of the archive listing.
type Meeting struct {
	ID        string    `db:"id"`
	StartedAt time.Time `db:"started_at"`
	EndedAt   time.Time `db:"ended_at"`
	Summary   string    `db:"summary"`
	Segments  int64     `db:"segments"`
}

func (m Meeting) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// Recent lists the latest meetings, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Meeting, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT m.id, m.started_at, m.ended_at, m.summary, count(s.id) AS segments
		FROM meetings m
		LEFT JOIN segments s ON s.meeting_id = m.id
		GROUP BY m.id
		ORDER BY m.started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	meetings, err := pgx.CollectRows(rows, pgx.RowToStructByName[Meeting])
	if err != nil {
		return nil, fmt.Errorf("scan meetings: %w", err)
	}
	return meetings, nil
}

// Load reads a whole report back.
func (a *Archive) Load(ctx context.Context, id string) (session.Report, error) {
	r := session.Report{ID: id}
	var usageJSON []byte

	err := a.pool.QueryRow(ctx, `
		SELECT started_at, ended_at, summary, usage
		FROM meetings WHERE id = $1`,
		id,
	).Scan(&r.Started, &r.Ended, &r.Summary, &usageJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Report{}, fmt.Errorf("load meeting: %w", err)
	}

	var u usage.Usage
	if err := json.Unmarshal(usageJSON, &u); err != nil {
		return session.Report{}, fmt.Errorf("decode usage: %w", err)
	}
	r.Usage = u

	rows, err := a.pool.Query(ctx, `
		SELECT text, start_s, end_s, speaker
		FROM segments WHERE meeting_id = $1
		ORDER BY seq`,
		id,
	)
	if err != nil {
		return session.Report{}, fmt.Errorf("load segments: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Segment, error) {
		var s transcript.Segment
		err := row.Scan(&s.Text, &s.Start, &s.End, &s.Speaker)
		return s, err
	})
	if err != nil {
		return session.Report{}, fmt.Errorf("scan segments: %w", err)
	}
	r.Transcript = transcript.New(segs...)
	return r, nil
}
