package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const sessionIssuer = "storefront-admin"

// SessionClaims is the payload of an admin session token
type SessionClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the identity carried by the claims
func (c *SessionClaims) Actor() (models.Actor, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid subject: %w", err)
	}
	return models.Actor{ID: id, Name: c.Name}, nil
}

// AuthService authenticates admins and issues signed session tokens
type AuthService struct {
	admins AdminStore
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(admins AdminStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		admins: admins,
		secret: []byte(secret),
		ttl:    ttl,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Login checks the credentials and returns a session token for the admin
func (a *AuthService) Login(ctx context.Context, email, password string) (string, *models.AdminUser, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	admin, err := a.admins.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("Login for unknown admin", zap.String("email", email))
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !admin.IsActive {
		a.logger.Warn("Login for inactive admin", zap.Int64("admin_id", admin.ID))
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		a.logger.Warn("Login with wrong password", zap.Int64("admin_id", admin.ID))
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.IssueToken(admin)
	if err != nil {
		return "", nil, err
	}

	if err := a.admins.TouchAdminLogin(ctx, admin.ID); err != nil {
		a.logger.Warn("Failed to stamp admin login", zap.Int64("admin_id", admin.ID), zap.Error(err))
	}
	a.logger.Info("Admin logged in", zap.Int64("admin_id", admin.ID))
	return token, admin, nil
}

// IssueToken signs an HS256 session token for admin
func (a *AuthService) IssueToken(admin *models.AdminUser) (string, error) {
	now := a.now()
	claims := SessionClaims{
		Name:  admin.Name,
		Email: admin.Email,
		Role:  admin.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   strconv.FormatInt(admin.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return token, nil
}

// ParseToken validates a session token and returns its claims
func (a *AuthService) ParseToken(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Issuer != sessionIssuer {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// CurrentAdmin re-reads the admin behind a session, rejecting deactivated accounts
func (a *AuthService) CurrentAdmin(ctx context.Context, claims *SessionClaims) (*models.AdminUser, error) {
	actor, err := claims.Actor()
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	admin, err := a.admins.GetAdminByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !admin.IsActive {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// HashPassword hashes a password with bcrypt's default cost
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", newValidationError("password", "must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
