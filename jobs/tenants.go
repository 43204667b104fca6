package jobs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strataledger/strataledger/internal/tenant"
)

// TenantSource lists the associations a scheduled job fans out over.
type TenantSource interface {
	ListAssociations(ctx context.Context) ([]tenant.Scope, error)
}

type pgTenantSource struct {
	db *pgxpool.Pool
}

// NewTenantSource returns a TenantSource backed by the associations table.
func NewTenantSource(db *pgxpool.Pool) TenantSource {
	return &pgTenantSource{db: db}
}

func (s *pgTenantSource) ListAssociations(ctx context.Context) ([]tenant.Scope, error) {
	rows, err := s.db.Query(ctx, `SELECT organization_id, id FROM associations
WHERE deleted_at IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tenant.Scope
	for rows.Next() {
		scope := tenant.Scope{IsStaff: true}
		if err := rows.Scan(&scope.OrganizationID, &scope.AssociationID); err != nil {
			return nil, err
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}
