package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CustomerService manages the customer master data quotes and orders hang off.
type CustomerService interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, id int) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
}

type customerService struct {
	db          DB
	phoneRegion string
}

// NewCustomerService returns a CustomerService. phoneRegion is the ISO region
// used to parse phone numbers written without a country code.
func NewCustomerService(db DB, phoneRegion string) CustomerService {
	return &customerService{db: db, phoneRegion: phoneRegion}
}

func (s *customerService) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid(ErrInvalidInput, "customer name is required")
	}
	var phone *string
	if strings.TrimSpace(in.Phone) != "" {
		p, err := NormalizePhone(in.Phone, s.phoneRegion)
		if err != nil {
			return nil, err
		}
		phone = &p
	}
	var email *string
	if e := strings.TrimSpace(in.Email); e != "" {
		email = &e
	}

	var id int
	err := s.db.QueryRow(ctx, `
		INSERT INTO customers (name, email, phone, company)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, name, email, phone, strings.TrimSpace(in.Company)).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return s.GetCustomer(ctx, id)
}

func (s *customerService) GetCustomer(ctx context.Context, id int) (*Customer, error) {
	c, err := scanCustomer(s.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(company, ''), created_at
		FROM customers WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(ErrCustomerNotFound, "customer %d", id)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", id, err)
	}
	return c, nil
}

func (s *customerService) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(company, ''), created_at
		FROM customers ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
