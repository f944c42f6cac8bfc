package store

import (
	"context"
	"encoding/json"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type settingRow struct {
	Key         string        `db:"key"`
	Value       []byte        `db:"value"`
	Description *string       `db:"description"`
	UpdatedBy   uuid.NullUUID `db:"updated_by"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

func (r settingRow) model() models.Setting {
	return models.Setting{
		Key:         r.Key,
		Value:       json.RawMessage(r.Value),
		Description: r.Description,
		UpdatedBy:   r.UpdatedBy,
		UpdatedAt:   r.UpdatedAt,
	}
}

// GetSettingValues reads the raw values of keys. Missing keys are absent from
// the result. Never cached: every caller sees the latest committed value.
func (s *queries) GetSettingValues(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	var rows []settingRow
	err := s.selectInto(ctx, &rows,
		"SELECT key, value, description, updated_by, updated_at FROM settings WHERE key = ANY($1)",
		pq.Array(keys))
	if err != nil {
		return nil, apperr.Storage("get settings", err)
	}

	values := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		values[r.Key] = json.RawMessage(r.Value)
	}
	return values, nil
}

// ListSettings retrieves every setting ordered by key
func (s *queries) ListSettings(ctx context.Context) ([]models.Setting, error) {
	var rows []settingRow
	err := s.selectInto(ctx, &rows,
		"SELECT key, value, description, updated_by, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, apperr.Storage("list settings", err)
	}

	settings := make([]models.Setting, 0, len(rows))
	for _, r := range rows {
		settings = append(settings, r.model())
	}
	return settings, nil
}

// UpsertSetting writes value under key. A nil description keeps the existing one.
func (s *queries) UpsertSetting(ctx context.Context, key string, value json.RawMessage, description *string, updatedBy uuid.NullUUID) (*models.Setting, error) {
	var row settingRow
	err := s.get(ctx, &row, `
		INSERT INTO settings (key, value, description, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			description = COALESCE(EXCLUDED.description, settings.description),
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING key, value, description, updated_by, updated_at`,
		key, string(value), description, updatedBy)
	if err != nil {
		return nil, apperr.Storage("upsert setting", err)
	}
	setting := row.model()
	return &setting, nil
}
