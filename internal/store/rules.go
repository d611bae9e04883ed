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

const ruleColumns = `id, user_id, name, enabled, active, source_calendar_id, source_calendar_ids,
	target_calendar_id, filters, advanced_mode, privacy, sync_window, last_sync_at, metadata,
	created_at, updated_at`

type ruleRow struct {
	sources, filters, privacy, window, metadata sql.NullString
	lastSync                                    sql.NullInt64
}

func encodeRule(r *model.SyncRule) (ruleRow, error) {
	var (
		row ruleRow
		err error
	)
	if row.sources, err = encodeJSON("rule sources", r.SourceCalendarIDs, len(r.SourceCalendarIDs) == 0); err != nil {
		return row, err
	}
	if row.filters, err = encodeJSON("rule filters", r.Filters, len(r.Filters) == 0); err != nil {
		return row, err
	}
	if row.privacy, err = encodeJSON("privacy settings", r.Privacy, false); err != nil {
		return row, err
	}
	if row.window, err = encodeJSON("sync window", r.Window, r.Window == nil); err != nil {
		return row, err
	}
	if row.metadata, err = encodeJSON("rule metadata", r.Metadata, len(r.Metadata) == 0); err != nil {
		return row, err
	}
	if r.LastSyncAt != nil {
		row.lastSync = sql.NullInt64{Int64: toMillis(*r.LastSyncAt), Valid: true}
	}
	return row, nil
}

func scanRule(row rowScanner) (*model.SyncRule, error) {
	var (
		r                        model.SyncRule
		enc                      ruleRow
		enabled, active, advMode int
		createdMs, updatedMs     int64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Name, &enabled, &active, &r.SourceCalendarID, &enc.sources,
		&r.TargetCalendarID, &enc.filters, &advMode, &enc.privacy, &enc.window, &enc.lastSync, &enc.metadata,
		&createdMs, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, appErr.NewStoreError("scan sync rule", err)
	}

	r.Enabled = enabled == 1
	r.Active = active == 1
	r.AdvancedMode = advMode == 1
	r.CreatedAt = fromMillis(createdMs, time.UTC)
	r.UpdatedAt = fromMillis(updatedMs, time.UTC)
	if enc.lastSync.Valid {
		t := fromMillis(enc.lastSync.Int64, time.UTC)
		r.LastSyncAt = &t
	}

	if err := decodeJSON("rule sources", enc.sources, &r.SourceCalendarIDs); err != nil {
		return nil, err
	}
	if err := decodeJSON("rule filters", enc.filters, &r.Filters); err != nil {
		return nil, err
	}
	if err := decodeJSON("privacy settings", enc.privacy, &r.Privacy); err != nil {
		return nil, err
	}
	if err := decodeJSON("sync window", enc.window, &r.Window); err != nil {
		return nil, err
	}
	if err := decodeJSON("rule metadata", enc.metadata, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateSyncRule inserts r, assigning an id when it has none.
func (s *Store) CreateSyncRule(ctx context.Context, r *model.SyncRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	enc, err := encodeRule(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, boolToInt(r.Enabled), boolToInt(r.Active), r.SourceCalendarID, enc.sources,
		r.TargetCalendarID, enc.filters, boolToInt(r.AdvancedMode), enc.privacy, enc.window, enc.lastSync, enc.metadata,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return appErr.NewStoreError("insert sync rule", err)
	}
	return nil
}

// GetSyncRule returns the rule with the given id.
func (s *Store) GetSyncRule(ctx context.Context, id string) (*model.SyncRule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM sync_rules WHERE id = ?", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.NewNotFoundError("sync rule", id, err)
	}
	return r, err
}

// ListSyncRules returns every rule, oldest first.
func (s *Store) ListSyncRules(ctx context.Context) ([]model.SyncRule, error) {
	return s.queryRules(ctx, "list sync rules", "1 = 1")
}

// ListEnabledSyncRules returns the rules with enabled = true, oldest first.
func (s *Store) ListEnabledSyncRules(ctx context.Context) ([]model.SyncRule, error) {
	return s.queryRules(ctx, "list enabled sync rules", "enabled = 1")
}

func (s *Store) queryRules(ctx context.Context, op, where string) ([]model.SyncRule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM sync_rules WHERE "+where+" ORDER BY created_at, id")
	if err != nil {
		return nil, appErr.NewStoreError(op, err)
	}
	defer rows.Close()

	out := make([]model.SyncRule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.NewStoreError(op, err)
	}
	return out, nil
}

// UpdateSyncRule overwrites the stored rule in one transaction. The rule
// must exist; CreatedAt is preserved.
func (s *Store) UpdateSyncRule(ctx context.Context, r *model.SyncRule) error {
	r.UpdatedAt = s.now().UTC()

	enc, err := encodeRule(r)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return appErr.NewStoreError("begin rule update", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_rules SET
			user_id = ?, name = ?, enabled = ?, active = ?, source_calendar_id = ?, source_calendar_ids = ?,
			target_calendar_id = ?, filters = ?, advanced_mode = ?, privacy = ?, sync_window = ?,
			last_sync_at = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		r.UserID, r.Name, boolToInt(r.Enabled), boolToInt(r.Active), r.SourceCalendarID, enc.sources,
		r.TargetCalendarID, enc.filters, boolToInt(r.AdvancedMode), enc.privacy, enc.window,
		enc.lastSync, enc.metadata, toMillis(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return appErr.NewStoreError("update sync rule", err)
	}
	if err := requireAffected(res, "sync rule", r.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErr.NewStoreError("commit rule update", err)
	}
	return nil
}
