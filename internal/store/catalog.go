package store

import (
	"context"
	"fmt"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const serviceColumns = `id, name, description, base_price, min_price, max_price, unit,
	category, default_options, active, created_at, updated_at`

// GetServicesByIDs retrieves the services referenced by an order
func (s *queries) GetServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Service, error) {
	if len(ids) == 0 {
		return []models.Service{}, nil
	}

	query, args, err := sqlx.In("SELECT "+serviceColumns+" FROM services WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build services query: %w", err)
	}
	query = s.q.Rebind(query)

	var services []models.Service
	if err := s.selectInto(ctx, &services, query, args...); err != nil {
		return nil, apperr.Storage("get services", err)
	}
	return services, nil
}

// GetService retrieves a catalog entry by ID
func (s *queries) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	var svc models.Service
	if err := getOne(ctx, s.q, &svc, "service", id,
		"SELECT "+serviceColumns+" FROM services WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &svc, nil
}

// ListServices retrieves catalog entries grouped by category
func (s *queries) ListServices(ctx context.Context, filter models.ServiceFilter) ([]models.Service, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *filter.Active)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		where = append(where, "(name ILIKE ? OR description ILIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + serviceColumns + " FROM services"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category NULLS LAST, name"

	services := []models.Service{}
	if err := s.selectInto(ctx, &services, s.q.Rebind(query), args...); err != nil {
		return nil, apperr.Storage("list services", err)
	}
	return services, nil
}

// CreateService inserts a catalog entry
func (s *queries) CreateService(ctx context.Context, svc *models.Service) error {
	query := `
		INSERT INTO services (name, description, base_price, min_price, max_price, unit,
			category, default_options, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		svc.Name, svc.Description, svc.BasePrice, svc.MinPrice, svc.MaxPrice, svc.Unit,
		svc.Category, svc.DefaultOptions, svc.Active).
		Scan(&svc.ID, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return apperr.Storage("create service", err)
	}
	return nil
}

// UpdateService overwrites every editable column of a catalog entry
func (s *queries) UpdateService(ctx context.Context, svc *models.Service) error {
	query := `
		UPDATE services
		SET name = $2, description = $3, base_price = $4, min_price = $5, max_price = $6,
			unit = $7, category = $8, default_options = $9, active = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := getOne(ctx, s.q, &svc.UpdatedAt, "service", svc.ID, query,
		svc.ID, svc.Name, svc.Description, svc.BasePrice, svc.MinPrice, svc.MaxPrice,
		svc.Unit, svc.Category, svc.DefaultOptions, svc.Active)
	return err
}

// DeleteService removes a catalog entry. Services referenced by orders cannot
// be deleted and yield apperr.ErrConflict; deactivate them instead.
func (s *queries) DeleteService(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM services WHERE id = $1", id)
	if code, _ := pqCode(err); code == pqForeignKeyViolation {
		return fmt.Errorf("service %s is referenced by orders: %w", id, apperr.ErrConflict)
	}
	deleted, err := rowsChanged(res, err, "delete service")
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("service", id)
	}
	return nil
}
