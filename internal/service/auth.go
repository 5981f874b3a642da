package service

import (
	"fmt"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const accessTokenType = "access"

// TenantClaims are the claims carried by CRM access tokens. Subject is the user id.
type TenantClaims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *TenantClaims) UserID() string { return c.Subject }

// TokenService signs and validates tenant access tokens (HS256).
type TokenService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	logger    *zap.Logger
}

func NewTokenService(secret, issuer string, accessTTL time.Duration, logger *zap.Logger) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// IssueAccessToken signs a token binding userID to companyID.
func (s *TokenService) IssueAccessToken(userID, companyID, role string) (string, error) {
	if userID == "" {
		return "", &domain.ErrValidation{Field: "user_id", Message: "required"}
	}
	if companyID == "" {
		return "", &domain.ErrValidation{Field: "company_id", Message: "required"}
	}

	now := time.Now()
	claims := TenantClaims{
		CompanyID: companyID,
		Role:      role,
		Type:      accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and checks a bearer token.
func (s *TokenService) ValidateAccessToken(tokenString string) (*TenantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		s.logger.Debug("access token rejected", zap.Error(err))
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != accessTokenType {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	if claims.CompanyID == "" || claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token is missing tenant claims"}
	}
	return claims, nil
}
