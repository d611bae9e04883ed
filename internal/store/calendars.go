package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// CreateAccount inserts acct, assigning an id when it has none.
func (s *Store) CreateAccount(ctx context.Context, acct *model.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Provider == "" {
		acct.Provider = model.ProviderLocal
	}
	now := s.now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now

	cfg, err := encodeJSON("account config", acct.Config, acct.Config == nil)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, email, provider, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, '{}'), ?, ?, ?)`,
		acct.ID, acct.UserID, acct.Name, acct.Email, string(acct.Provider), cfg,
		boolToInt(acct.Enabled), toMillis(now), toMillis(now),
	)
	if err != nil {
		return appErr.NewStoreError("insert account", err)
	}
	return nil
}

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, provider, config, enabled, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.NewNotFoundError("account", id, err)
	}
	return acct, err
}

// GetCalendarAccount returns the account owning the given calendar.
func (s *Store) GetCalendarAccount(ctx context.Context, calendarID string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.user_id, a.name, a.email, a.provider, a.config, a.enabled, a.created_at, a.updated_at
		FROM accounts a JOIN calendars c ON c.account_id = a.id
		WHERE c.id = ?`, calendarID)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.NewNotFoundError("account for calendar", calendarID, err)
	}
	return acct, err
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		acct             model.Account
		provider         string
		cfg              sql.NullString
		enabled          int
		created, updated int64
	)
	if err := row.Scan(&acct.ID, &acct.UserID, &acct.Name, &acct.Email, &provider, &cfg,
		&enabled, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, appErr.NewStoreError("scan account", err)
	}
	acct.Provider = model.ProviderKind(provider)
	acct.Enabled = enabled == 1
	acct.CreatedAt = fromMillis(created, time.UTC)
	acct.UpdatedAt = fromMillis(updated, time.UTC)
	if err := decodeJSON("account config", cfg, &acct.Config); err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateCalendar inserts cal, assigning an id when it has none.
func (s *Store) CreateCalendar(ctx context.Context, cal *model.Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	if cal.ProviderID == "" {
		cal.ProviderID = cal.ID
	}
	if cal.Timezone == "" {
		cal.Timezone = "UTC"
	}
	now := s.now().UTC()
	cal.CreatedAt, cal.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendars (id, account_id, provider_id, name, color, timezone, is_primary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ID, cal.AccountID, cal.ProviderID, cal.Name, cal.Color, cal.Timezone,
		boolToInt(cal.IsPrimary), toMillis(now), toMillis(now),
	)
	if err != nil {
		return appErr.NewStoreError("insert calendar", err)
	}
	return nil
}

// GetCalendar returns the calendar with the given id.
func (s *Store) GetCalendar(ctx context.Context, id string) (*model.Calendar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, provider_id, name, color, timezone, is_primary, created_at, updated_at
		FROM calendars WHERE id = ?`, id)
	cal, err := scanCalendar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.NewNotFoundError("calendar", id, err)
	}
	return cal, err
}

// ListCalendars returns every calendar ordered by name.
func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, provider_id, name, color, timezone, is_primary, created_at, updated_at
		FROM calendars ORDER BY name, id`)
	if err != nil {
		return nil, appErr.NewStoreError("list calendars", err)
	}
	defer rows.Close()

	var out []model.Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cal)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.NewStoreError("list calendars", err)
	}
	return out, nil
}

func scanCalendar(row rowScanner) (*model.Calendar, error) {
	var (
		cal              model.Calendar
		primary          int
		created, updated int64
	)
	if err := row.Scan(&cal.ID, &cal.AccountID, &cal.ProviderID, &cal.Name, &cal.Color,
		&cal.Timezone, &primary, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, appErr.NewStoreError("scan calendar", err)
	}
	cal.IsPrimary = primary == 1
	cal.CreatedAt = fromMillis(created, time.UTC)
	cal.UpdatedAt = fromMillis(updated, time.UTC)
	return &cal, nil
}
