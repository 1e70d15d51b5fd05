package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/roomcast/internal/store"
)

// schema is applied on open. Participant uniqueness per (room, identity) and
// the admin election are enforced here rather than in application code: the
// partial unique indexes reject duplicate identities, and CreateParticipant
// decides the admin flag inside a single insert.
const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS participants (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id        INTEGER NOT NULL,
	auth_user_id   TEXT,
	anonymous_name TEXT,
	is_admin       BOOLEAN NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	CHECK ((auth_user_id IS NULL) != (anonymous_name IS NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_room_auth
	ON participants(room_id, auth_user_id) WHERE auth_user_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_room_anon
	ON participants(room_id, anonymous_name) WHERE anonymous_name IS NOT NULL;

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id        INTEGER NOT NULL,
	participant_id INTEGER NOT NULL,
	display_name   TEXT NOT NULL,
	content        TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (participant_id) REFERENCES participants(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at DESC);

CREATE TABLE IF NOT EXISTS auth_users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
	auth_user_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (auth_user_id) REFERENCES auth_users(id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function after
// the schema is applied. Useful for tests to seed fixture rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a uniqueness constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== RoomStore implementation ====

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string) (*store.Room, error) {
	query := `
		INSERT INTO rooms (name)
		VALUES (?)
	`
	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("room %q: %w", name, store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetRoomByID(ctx, id)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, name, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	return &room, nil
}

// GetRoomByName retrieves a room by its slug.
func (s *SQLiteStore) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	query := `
		SELECT id, name, created_at
		FROM rooms
		WHERE name = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&room.ID,
		&room.Name,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	return &room, nil
}

// ==== ParticipantStore implementation ====

const participantColumns = `id, room_id, auth_user_id, anonymous_name, is_admin, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (*store.Participant, error) {
	var p store.Participant
	var authUserID, anonymousName sql.NullString
	err := row.Scan(
		&p.ID,
		&p.RoomID,
		&authUserID,
		&anonymousName,
		&p.IsAdmin,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if authUserID.Valid {
		p.AuthUserID = &authUserID.String
	}
	if anonymousName.Valid {
		p.AnonymousName = &anonymousName.String
	}
	return &p, nil
}

// FindParticipant looks up a participant by auth user id OR anonymous name.
func (s *SQLiteStore) FindParticipant(ctx context.Context, roomID int64, authUserID, anonymousName string) (*store.Participant, error) {
	conds := make([]string, 0, 2)
	args := []any{roomID}
	if authUserID != "" {
		conds = append(conds, "auth_user_id = ?")
		args = append(args, authUserID)
	}
	if anonymousName != "" {
		conds = append(conds, "anonymous_name = ?")
		args = append(args, anonymousName)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("participant lookup without identity: %w", store.ErrNotFound)
	}

	query := `SELECT ` + participantColumns + ` FROM participants WHERE room_id = ? AND (` +
		strings.Join(conds, " OR ") + `)`

	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant in room %d: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}

	return p, nil
}

// CreateParticipant inserts a participant. The admin flag is computed inside
// the insert statement so that two concurrent first joiners cannot both
// observe an empty room: exactly one insert sees no existing rows.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, roomID int64, authUserID, anonymousName string) (*store.Participant, error) {
	if (authUserID == "") == (anonymousName == "") {
		return nil, fmt.Errorf("exactly one of auth user id and anonymous name must be set")
	}

	var auth, anon any
	if authUserID != "" {
		auth = authUserID
	}
	if anonymousName != "" {
		anon = anonymousName
	}

	query := `
		INSERT INTO participants (room_id, auth_user_id, anonymous_name, is_admin)
		VALUES (?, ?, ?, NOT EXISTS (SELECT 1 FROM participants WHERE room_id = ?))
	`
	result, err := s.db.ExecContext(ctx, query, roomID, auth, anon, roomID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("participant in room %d: %w", roomID, store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert participant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getParticipantByID(ctx, id)
}

func (s *SQLiteStore) getParticipantByID(ctx context.Context, id int64) (*store.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = ?`
	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// ListParticipants lists all participants of a room.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID int64) ([]*store.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE room_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []*store.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return participants, nil
}

// CountParticipants counts participants in a room.
func (s *SQLiteStore) CountParticipants(ctx context.Context, roomID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE room_id = ?`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

// ==== MessageStore implementation ====

// SaveMessage inserts a message and returns the stored row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, roomID, participantID int64, displayName, content string) (*store.Message, error) {
	query := `
		INSERT INTO messages (room_id, participant_id, display_name, content)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, roomID, participantID, displayName, content)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	var msg store.Message
	err = s.db.QueryRowContext(ctx, `
		SELECT id, room_id, participant_id, display_name, content, created_at
		FROM messages
		WHERE id = ?
	`, id).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.ParticipantID,
		&msg.DisplayName,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &msg, nil
}

// ListRecentMessages returns up to limit messages of a room, newest first.
// The id tiebreak keeps the order stable for messages stored within the same
// timestamp granularity.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, participant_id, display_name, content, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.ParticipantID,
			&msg.DisplayName,
			&msg.Content,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// ==== ProfileStore implementation ====

// GetProfile retrieves the extended profile row for an auth user.
func (s *SQLiteStore) GetProfile(ctx context.Context, authUserID string) (*store.Profile, error) {
	query := `
		SELECT auth_user_id, display_name, email
		FROM profiles
		WHERE auth_user_id = ?
	`
	var p store.Profile
	err := s.db.QueryRowContext(ctx, query, authUserID).Scan(
		&p.AuthUserID,
		&p.DisplayName,
		&p.Email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %q: %w", authUserID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}

	return &p, nil
}

// SaveProfile inserts or replaces a profile row.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *store.Profile) error {
	query := `
		INSERT INTO profiles (auth_user_id, display_name, email)
		VALUES (?, ?, ?)
		ON CONFLICT (auth_user_id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email
	`
	if _, err := s.db.ExecContext(ctx, query, p.AuthUserID, p.DisplayName, p.Email); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// ==== AuthUserStore implementation ====

// CreateAuthUser creates an identity provider account.
func (s *SQLiteStore) CreateAuthUser(ctx context.Context, id, username, passwordHash string) (*store.AuthUser, error) {
	query := `
		INSERT INTO auth_users (id, username, password_hash)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("auth user %q: %w", username, store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert auth user: %w", err)
	}

	return s.GetAuthUserByID(ctx, id)
}

// GetAuthUserByID retrieves an account by id.
func (s *SQLiteStore) GetAuthUserByID(ctx context.Context, id string) (*store.AuthUser, error) {
	return s.getAuthUser(ctx, `id = ?`, id)
}

// GetAuthUserByUsername retrieves an account by username.
func (s *SQLiteStore) GetAuthUserByUsername(ctx context.Context, username string) (*store.AuthUser, error) {
	return s.getAuthUser(ctx, `username = ?`, username)
}

func (s *SQLiteStore) getAuthUser(ctx context.Context, cond string, arg any) (*store.AuthUser, error) {
	query := `SELECT id, username, password_hash, created_at FROM auth_users WHERE ` + cond
	var u store.AuthUser
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auth user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query auth user: %w", err)
	}

	return &u, nil
}
