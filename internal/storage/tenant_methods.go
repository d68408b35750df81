package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/controlface/deploy-console/internal/models"
)

// ========== Tenant Methods ==========

const tenantColumns = `id, name, project_id, firebase_token, plan, max_employees, status, created_at`

// CreateTenant creates a new tenant
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	prepareNewTenant(tenant)

	query := `
        INSERT INTO tenants (` + tenantColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.ProjectID, tenant.FirebaseToken,
		string(tenant.Plan), tenant.MaxEmployees, tenant.Status, tenant.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetTenant gets a tenant by ID
func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant, err := scanTenant(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return tenant, nil
}

// UpdateTenant updates the form fields of a tenant
func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
        UPDATE tenants SET
            name = $2, project_id = $3, firebase_token = $4, plan = $5, max_employees = $6
        WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.ProjectID, tenant.FirebaseToken,
		string(tenant.Plan), tenant.MaxEmployees,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteTenant deletes a tenant
func (s *PostgresStore) DeleteTenant(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListTenants lists the whole collection
func (s *PostgresStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]*models.Tenant, 0)
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tenants, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	var plan string
	err := row.Scan(
		&tenant.ID, &tenant.Name, &tenant.ProjectID, &tenant.FirebaseToken,
		&plan, &tenant.MaxEmployees, &tenant.Status, &tenant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tenant.Plan = models.Plan(plan)
	return tenant, nil
}

// prepareNewTenant assigns the storage-owned fields of a new record
func prepareNewTenant(tenant *models.Tenant) {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
