package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/model"
)

// TokenUse separates session tokens from password-reset tokens. A
// token minted for one use is rejected when presented for the other.
type TokenUse string

const (
	UseAccess TokenUse = "access"
	UseReset  TokenUse = "reset"
)

// Claims is the payload embedded in every token the service signs.
// IdentityID and Role are the authenticated facts; the registered
// claims carry expiry, issue time and a unique jti.
type Claims struct {
	IdentityID uint64     `json:"uid"`
	Role       model.Role `json:"role"`
	Use        TokenUse   `json:"use"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 bearer tokens. The secret is
// process-wide configuration injected once at construction and never
// mutated; verification is stateless and does not consult storage.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Issue signs a token for the given identity and use with the given
// TTL. Expiry and issue time are UTC.
func (s *TokenService) Issue(identityID uint64, role model.Role, use TokenUse, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		IdentityID: identityID,
		Role:       role,
		Use:        use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(identityID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", &Error{Kind: KindTokenInvalid, Message: "token signing failed", cause: err}
	}
	return signed, nil
}

// Verify parses and validates a token and returns its claims. Expired
// tokens fail with ErrTokenExpired; everything else (bad signature,
// malformed payload, wrong algorithm) fails with ErrTokenInvalid so
// callers can word the two cases differently.
//
// Verify deliberately does not check the identity still exists; that
// is the orchestrator's job inside its transaction.
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.IdentityID == 0 {
		return nil, ErrTokenInvalid
	}
	if claims.Use == "" {
		// Tokens minted before the use claim existed count as session tokens.
		claims.Use = UseAccess
	}
	return claims, nil
}
