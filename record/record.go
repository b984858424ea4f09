package record

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/mogaika/mmd_pose/pose"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bone_samples (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	frame      REAL NOT NULL,
	bone       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	tx REAL NOT NULL, ty REAL NOT NULL, tz REAL NOT NULL,
	qw REAL NOT NULL, qx REAL NOT NULL, qy REAL NOT NULL, qz REAL NOT NULL,
	PRIMARY KEY (session_id, frame, bone)
);`

// Store keeps solved poses in SQLite
type Store struct {
	db *sql.DB
}

type Session struct {
	ID      uuid.UUID
	Name    string
	Created time.Time
}

type BoneSample struct {
	Bone int
	Name string
	// world translation
	Translation mgl32.Vec3
	// local rotation
	Rotation mgl32.Quat
}

type Frame struct {
	Frame float32
	Bones []BoneSample
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Errorf("Record database path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open %q", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "Failed to ping %q", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "Failed to create schema")
	}
	return &Store{db: db}, nil
}

func (st *Store) Close() error {
	if st == nil || st.db == nil {
		return nil
	}
	return st.db.Close()
}

func (st *Store) BeginSession(ctx context.Context, name string) (Session, error) {
	s := Session{
		ID:      uuid.New(),
		Name:    name,
		Created: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		s.ID.String(), s.Name, s.Created.UnixMilli()); err != nil {
		return Session{}, errors.Wrapf(err, "Failed to create session %q", name)
	}
	return s, nil
}

func (st *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT id, name, created_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list sessions")
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var id, name string
		var created int64
		if err := rows.Scan(&id, &name, &created); err != nil {
			return nil, errors.Wrapf(err, "Failed to scan session")
		}
		u, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrapf(err, "Session id %q", id)
		}
		result = append(result, Session{ID: u, Name: name, Created: time.UnixMilli(created).UTC()})
	}
	return result, errors.Wrapf(rows.Err(), "Failed to list sessions")
}

// WriteFrame stores every bone of the skeleton, writing the same frame again replaces it
func (st *Store) WriteFrame(ctx context.Context, session uuid.UUID, frame float32, s *pose.Skeleton) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "Failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bone_samples
		(session_id, frame, bone, name, tx, ty, tz, qw, qx, qy, qz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrapf(err, "Failed to prepare insert")
	}
	defer stmt.Close()

	id := session.String()
	bones := s.Bones()
	for i := range bones {
		b := &bones[i]
		t := b.WorldPosition()
		q := b.Rotation
		if _, err := stmt.ExecContext(ctx, id, frame, i, b.Name,
			t[0], t[1], t[2], q.W, q.V[0], q.V[1], q.V[2]); err != nil {
			return errors.Wrapf(err, "Failed to write bone %q of frame %v", b.Name, frame)
		}
	}
	return errors.Wrapf(tx.Commit(), "Failed to commit frame %v", frame)
}

// Frames reads back a session ordered by frame
func (st *Store) Frames(ctx context.Context, session uuid.UUID) ([]Frame, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT frame, bone, name, tx, ty, tz, qw, qx, qy, qz
		FROM bone_samples WHERE session_id = ? ORDER BY frame, bone`, session.String())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to query frames")
	}
	defer rows.Close()

	var result []Frame
	for rows.Next() {
		var frame float64
		var b BoneSample
		var t [3]float64
		var q [4]float64
		if err := rows.Scan(&frame, &b.Bone, &b.Name, &t[0], &t[1], &t[2], &q[0], &q[1], &q[2], &q[3]); err != nil {
			return nil, errors.Wrapf(err, "Failed to scan bone sample")
		}
		b.Translation = mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])}
		b.Rotation = mgl32.Quat{W: float32(q[0]), V: mgl32.Vec3{float32(q[1]), float32(q[2]), float32(q[3])}}

		if n := len(result); n == 0 || result[n-1].Frame != float32(frame) {
			result = append(result, Frame{Frame: float32(frame)})
		}
		last := &result[len(result)-1]
		last.Bones = append(last.Bones, b)
	}
	return result, errors.Wrapf(rows.Err(), "Failed to read frames")
}
