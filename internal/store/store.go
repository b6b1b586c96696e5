package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound                = errors.New("store: record not found")
	ErrDuplicateOrderNumber    = errors.New("store: order number already exists")
	ErrDuplicateIdempotencyKey = errors.New("store: idempotency key already used")
)

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		SELECT id, slug, name, base_price, supports_ribbon, supports_applique,
		       text_name_max_chars, text_description_max_chars, image_path, is_active, created_at
		FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetRibbonByID retrieves a ribbon by ID
func (s *Store) GetRibbonByID(ctx context.Context, id int64) (*models.Ribbon, error) {
	var ribbon models.Ribbon
	err := s.db.GetContext(ctx, &ribbon,
		"SELECT id, slug, name, display_name, is_active FROM ribbons WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "ribbon %d", id)
	}
	return &ribbon, nil
}

// GetAppliqueByID retrieves an applique by ID
func (s *Store) GetAppliqueByID(ctx context.Context, id int64) (*models.Applique, error) {
	var applique models.Applique
	err := s.db.GetContext(ctx, &applique,
		"SELECT id, slug, name, display_name, is_active FROM appliques WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "applique %d", id)
	}
	return &applique, nil
}

const adminColumns = "id, email, name, role, password_hash, is_active, last_login_at, created_at"

// GetAdminByEmail retrieves an admin user by e-mail
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var admin models.AdminUser
	err := s.db.GetContext(ctx, &admin,
		"SELECT "+adminColumns+" FROM admin_users WHERE email = $1", strings.ToLower(email))
	if err != nil {
		return nil, notFound(err, "admin %s", email)
	}
	return &admin, nil
}

// GetAdminByID retrieves an admin user by ID
func (s *Store) GetAdminByID(ctx context.Context, id int64) (*models.AdminUser, error) {
	var admin models.AdminUser
	err := s.db.GetContext(ctx, &admin,
		"SELECT "+adminColumns+" FROM admin_users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "admin %d", id)
	}
	return &admin, nil
}

// TouchAdminLogin stamps the last login time
func (s *Store) TouchAdminLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE admin_users SET last_login_at = NOW() WHERE id = $1", id)
	return err
}

// UpsertAdmin creates an admin or updates the existing one with the same e-mail
func (s *Store) UpsertAdmin(ctx context.Context, admin *models.AdminUser) error {
	query := `
		INSERT INTO admin_users (email, name, role, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name, role = EXCLUDED.role,
		    password_hash = EXCLUDED.password_hash, is_active = EXCLUDED.is_active
		RETURNING id, created_at`

	return s.db.GetContext(ctx, admin, query,
		strings.ToLower(admin.Email), admin.Name, admin.Role, admin.PasswordHash, admin.IsActive)
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == constraint
	}
	return false
}
