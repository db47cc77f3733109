package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"flowdeck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted half of the session: the raw token and,
// when the profile has been fetched, its serialized form.
type SessionRecord struct {
	AccessToken string
	User        *domain.UserProfile
}

// LoadSession reads the persisted session row. A corrupt user blob yields a
// record with User nil rather than an error; restore must never fail on bad
// local data.
func (r Repo) LoadSession(ctx context.Context) (SessionRecord, error) {
	var rec SessionRecord
	var userJSON sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT access_token, user_json FROM session WHERE id=1`).
		Scan(&rec.AccessToken, &userJSON)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if userJSON.Valid && userJSON.String != "" {
		var u domain.UserProfile
		if jsonErr := json.Unmarshal([]byte(userJSON.String), &u); jsonErr == nil {
			rec.User = &u
		}
	}
	return rec, nil
}

// SaveToken upserts the token, dropping any previously stored profile; the
// profile is re-fetched after every token change.
func (r Repo) SaveToken(ctx context.Context, token string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO session(id,access_token,user_json,updated_at) VALUES (1,?,NULL,?)
		ON CONFLICT(id) DO UPDATE SET access_token=excluded.access_token, user_json=NULL, updated_at=excluded.updated_at`,
		token, now)
	return err
}

// SaveUser stores the serialized profile next to the existing token.
func (r Repo) SaveUser(ctx context.Context, u domain.UserProfile) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE session SET user_json=?, updated_at=? WHERE id=1`, string(data), now)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSession removes the persisted session row.
func (r Repo) ClearSession(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM session WHERE id=1`)
	return err
}
