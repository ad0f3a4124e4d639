package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

const companyColumns = `id, user_id, corporate_name, trade_name, tax_id,
	       phone, email, website, address, city, state, zip_code, created_at, updated_at`

// CompanyByOwner retrieves the company owned by the given user.
func (s *Store) CompanyByOwner(ctx context.Context, ownerID string) (*store.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies
		WHERE user_id = $1
	`

	company, err := scanCompany(s.pool.QueryRow(ctx, query, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return company, nil
}

// UpsertCompany creates or replaces the owner's company in place. The
// user_id unique constraint enforces one company per user.
func (s *Store) UpsertCompany(ctx context.Context, c *store.Company) (*store.Company, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO companies (id, user_id, corporate_name, trade_name, tax_id,
		                       phone, email, website, address, city, state, zip_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			corporate_name = EXCLUDED.corporate_name,
			trade_name = EXCLUDED.trade_name,
			tax_id = EXCLUDED.tax_id,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			website = EXCLUDED.website,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip_code = EXCLUDED.zip_code,
			updated_at = NOW()
		RETURNING ` + companyColumns

	company, err := scanCompany(s.pool.QueryRow(ctx, query,
		c.ID,
		c.UserID,
		c.CorporateName,
		c.TradeName,
		c.TaxID,
		c.Phone,
		c.Email,
		c.Website,
		c.Address,
		c.City,
		c.State,
		c.ZipCode,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert company: %w", err)
	}

	return company, nil
}

func scanCompany(row rowScanner) (*store.Company, error) {
	company := &store.Company{}
	err := row.Scan(
		&company.ID,
		&company.UserID,
		&company.CorporateName,
		&company.TradeName,
		&company.TaxID,
		&company.Phone,
		&company.Email,
		&company.Website,
		&company.Address,
		&company.City,
		&company.State,
		&company.ZipCode,
		&company.CreatedAt,
		&company.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return company, nil
}
