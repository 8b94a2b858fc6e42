package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
)

// Per-connection settings go in the DSN so every pooled connection gets them.
const dsnParams = "?_busy_timeout=10000&_foreign_keys=on&_synchronous=NORMAL"

const schema = `
	PRAGMA journal_mode       = WAL;
	PRAGMA journal_size_limit = 200000000;
	PRAGMA temp_store         = MEMORY;
	PRAGMA cache_size         = -16000;

	create table if not exists meetings (
		id text primary key not null,
		title text not null,
		source text not null,
		status text not null,
		started_at integer not null,
		ended_at integer,
		summary text,
		summary_at integer,
		audio_path text,
		blake3_hash text
	);

	create table if not exists segments (
		seq integer primary key autoincrement not null,
		id text not null unique,
		meeting_id text not null references meetings(id) on delete cascade,
		speaker text not null,
		text text not null,
		start_ns integer not null,
		end_ns integer not null,
		confidence real not null
	);

	create index if not exists segments_meeting on segments (meeting_id, start_ns);`

// SQLite stores meetings in a single database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, title, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"insert into meetings (id, title, source, status, started_at) values ($1, $2, $3, $4, $5)",
		id, title, source, string(StatusRecording), s.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("persisting meeting into sqlite: %w", err)
	}
	return id, nil
}

func (s *SQLite) AddSegment(ctx context.Context, meetingID string, seg scribe.TranscriptSegment) error {
	_, err := s.db.ExecContext(ctx, `insert into segments (
		id,
		meeting_id,
		speaker,
		text,
		start_ns,
		end_ns,
		confidence) values ($1, $2, $3, $4, $5, $6, $7)`,
		seg.ID, meetingID, string(seg.Speaker), seg.Text, int64(seg.Start), int64(seg.End), seg.Confidence,
	)
	if err != nil {
		return fmt.Errorf("inserting segment: %w", err)
	}
	return nil
}

func (s *SQLite) CompleteMeeting(ctx context.Context, meetingID string, endedAt time.Time) error {
	return s.exec(ctx, "completing meeting",
		"update meetings set status = $1, ended_at = $2 where id = $3",
		string(StatusCompleted), endedAt.UnixNano(), meetingID)
}

func (s *SQLite) UpdateSummary(ctx context.Context, meetingID string, summary engine.Summary) error {
	return s.exec(ctx, "updating summary",
		"update meetings set summary = $1, summary_at = $2 where id = $3",
		summary.Text, summary.GeneratedAt.UnixNano(), meetingID)
}

func (s *SQLite) AttachAudio(ctx context.Context, meetingID, path, hash string) error {
	return s.exec(ctx, "attaching audio",
		"update meetings set audio_path = $1, blake3_hash = $2 where id = $3",
		path, hash, meetingID)
}

func (s *SQLite) Delete(ctx context.Context, meetingID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting meeting: begin trx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "delete from segments where meeting_id = $1", meetingID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting segments: %w", err)
	}
	res, err := tx.ExecContext(ctx, "delete from meetings where id = $1", meetingID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deleting meeting: committing: %w", err)
	}
	return nil
}

func (s *SQLite) exec(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const meetingColumns = "id, title, source, status, started_at, ended_at, summary, summary_at, audio_path, blake3_hash"

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (Meeting, error) {
	var (
		m         Meeting
		status    string
		startedAt int64
		endedAt   sql.NullInt64
		summary   sql.NullString
		summaryAt sql.NullInt64
		audioPath sql.NullString
		audioHash sql.NullString
	)
	err := row.Scan(&m.ID, &m.Title, &m.Source, &status, &startedAt, &endedAt, &summary, &summaryAt, &audioPath, &audioHash)
	if err != nil {
		return Meeting{}, err
	}
	m.Status = Status(status)
	m.StartedAt = time.Unix(0, startedAt)
	if endedAt.Valid {
		t := time.Unix(0, endedAt.Int64)
		m.EndedAt = &t
	}
	if summaryAt.Valid {
		t := time.Unix(0, summaryAt.Int64)
		m.SummaryAt = &t
	}
	m.Summary = summary.String
	m.AudioPath = audioPath.String
	m.AudioHash = audioHash.String
	return m, nil
}

func (s *SQLite) Get(ctx context.Context, meetingID string) (Meeting, error) {
	m, err := scanMeeting(s.db.QueryRowContext(ctx,
		"select "+meetingColumns+" from meetings where id = $1", meetingID))
	if errors.Is(err, sql.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, fmt.Errorf("get meeting: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `select id, speaker, text, start_ns, end_ns, confidence
		from segments where meeting_id = $1 order by start_ns, seq`, meetingID)
	if err != nil {
		return Meeting{}, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seg        scribe.TranscriptSegment
			speaker    string
			start, end int64
		)
		if err := rows.Scan(&seg.ID, &speaker, &seg.Text, &start, &end, &seg.Confidence); err != nil {
			return Meeting{}, fmt.Errorf("scanning segment: %w", err)
		}
		seg.Speaker = scribe.Speaker(speaker)
		seg.Start = time.Duration(start)
		seg.End = time.Duration(end)
		m.Segments = append(m.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return Meeting{}, fmt.Errorf("reading segments: %w", err)
	}
	return m, nil
}

func (s *SQLite) List(ctx context.Context) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		"select "+meetingColumns+" from meetings order by started_at desc")
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
