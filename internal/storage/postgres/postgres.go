package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"troli/backend/internal/cart"
	"troli/backend/internal/storage"
)

// Store is the durable backend: one row per (identifier, instance)
// with the snapshot's item, condition and metadata documents as JSONB
// and a version column guarding concurrent writers.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS carts (
			identifier  TEXT NOT NULL,
			instance    TEXT NOT NULL,
			items       JSONB NOT NULL DEFAULT '[]',
			conditions  JSONB NOT NULL DEFAULT '[]',
			metadata    JSONB NOT NULL DEFAULT '{}',
			version     BIGINT NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (identifier, instance)
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_users (
			username    TEXT PRIMARY KEY,
			password    TEXT NOT NULL,
			role        TEXT NOT NULL DEFAULT 'customer',
			active      BOOLEAN NOT NULL DEFAULT true,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *Store) Load(ctx context.Context, identifier string, instance string) (*cart.Snapshot, error) {
	var (
		items      []byte
		conditions []byte
		metadata   []byte
		version    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT items, conditions, metadata, version
		FROM carts
		WHERE identifier = $1 AND instance = $2
	`, identifier, instance).Scan(&items, &conditions, &metadata, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	snap := cart.Snapshot{Version: version}
	if err := json.Unmarshal(items, &snap.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &snap.Conditions); err != nil {
		return nil, err
	}
	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &snap.Metadata); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

func (s *Store) Save(ctx context.Context, identifier string, instance string, snap cart.Snapshot) error {
	items, err := json.Marshal(snap.Items)
	if err != nil {
		return err
	}
	conditions, err := json.Marshal(snap.Conditions)
	if err != nil {
		return err
	}
	metadata := []byte("{}")
	if len(snap.Metadata) > 0 {
		if metadata, err = json.Marshal(snap.Metadata); err != nil {
			return err
		}
	}

	if snap.Version == 1 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO carts (identifier, instance, items, conditions, metadata, version)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, identifier, instance, items, conditions, metadata, snap.Version)
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE carts
		SET items = $3, conditions = $4, metadata = $5, version = $6, updated_at = now()
		WHERE identifier = $1 AND instance = $2 AND version = $6 - 1
	`, identifier, instance, items, conditions, metadata, snap.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, identifier string, instance string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM carts WHERE identifier = $1 AND instance = $2
	`, identifier, instance)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user storage.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return storage.ErrInvalidAccount
	}
	if user.Role == "" {
		user.Role = "customer"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrInvalidAccount
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]storage.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]storage.UserAccount, 0, 16)
	for rows.Next() {
		var user storage.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return storage.ErrInvalidAccount
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
