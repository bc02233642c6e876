package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const profileColumns = `p.id, p.user_id, p.username, p.display_name, p.avatar_url,
	p.bio, p.status_message, p.is_online, p.last_seen`

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, user User) (*Identity, error) {
	if err := user.Validate(); err != nil {
		return nil, invalid("CreateUser", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("BeginTx", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	identity := &Identity{ID: uuid.New().String(), Email: strings.ToLower(user.Email)}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, email, password, created_at) VALUES (@id, @email, @password, @created_at)",
		sql.Named("id", identity.ID), sql.Named("email", identity.Email),
		sql.Named("password", string(hashed)), sql.Named("created_at", now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, transient("ExecContext(insert users)", err)
	}

	query := `
	INSERT INTO profiles (id, user_id, username, display_name, is_online, last_seen)
	VALUES (@id, @user_id, @username, @display_name, FALSE, @last_seen)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", uuid.New().String()), sql.Named("user_id", identity.ID),
		sql.Named("username", user.Username), sql.Named("display_name", nullString(user.DisplayName)),
		sql.Named("last_seen", now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, transient("ExecContext(insert profiles)", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("Commit", err)
	}

	return identity, nil
}

func (s *SQLiteUserStore) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, email FROM users WHERE email = ? LIMIT 1", strings.ToLower(email))

	identity := new(Identity)
	if err := row.Scan(&identity.ID, &identity.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, transient("scanning user", err)
	}

	return identity, nil
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, email, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE email = ? LIMIT 1", strings.ToLower(email))

	var storedPassword string
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, transient("scanning password", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *SQLiteUserStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles AS p WHERE p.user_id = @user_id",
		sql.Named("user_id", userID))

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("GetProfile")
		}
		return nil, transient("scanning profile", err)
	}
	return profile, nil
}

func (s *SQLiteUserStore) SearchProfiles(ctx context.Context, q string, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"

	query := `
	SELECT ` + profileColumns + `
	FROM profiles AS p
	WHERE lower(p.username) LIKE @q ESCAPE '\' OR lower(coalesce(p.display_name, '')) LIKE @q ESCAPE '\'
	ORDER BY p.username
	LIMIT @limit`

	rows, err := s.db.QueryContext(ctx, query, sql.Named("q", pattern), sql.Named("limit", limit))
	if err != nil {
		return nil, transient("QueryContext(select profiles)", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, transient("rows.Scan", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("rows.Err", err)
	}

	return profiles, nil
}

func (s *SQLiteUserStore) SetOnline(ctx context.Context, userID string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET is_online = @online, last_seen = @last_seen WHERE user_id = @user_id",
		sql.Named("online", online), sql.Named("last_seen", time.Now().UTC()), sql.Named("user_id", userID))
	if err != nil {
		return transient("ExecContext(update profiles)", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	var (
		p                                         Profile
		displayName, avatarURL, bio, statusMessage sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Username, &displayName, &avatarURL,
		&bio, &statusMessage, &p.IsOnline, &p.LastSeen); err != nil {
		return nil, err
	}
	p.DisplayName = stringPtr(displayName)
	p.AvatarURL = stringPtr(avatarURL)
	p.Bio = stringPtr(bio)
	p.StatusMessage = stringPtr(statusMessage)
	return &p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
