package docs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultRefTTL is how long a content reference stays redeemable. References
// are minted per request, so a short window is enough for the rendering
// collaborator to fetch the content.
const DefaultRefTTL = 5 * time.Minute

const refIssuer = "docvault-gateway"

// ErrInvalidRef indicates a content reference failed verification.
var ErrInvalidRef = errors.New("docs: invalid content reference")

// RefClaims binds a content reference to one document, one principal and one
// short validity window. The raw content key never appears in responses
// unsigned.
type RefClaims struct {
	DocumentID string `json:"doc"`
	ContentKey string `json:"key"`
	jwt.RegisteredClaims
}

// RefSigner mints and verifies opaque content references. It is the only
// component that can turn a descriptor into fetchable content.
type RefSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewRefSigner builds a signer; a non-positive ttl falls back to DefaultRefTTL.
func NewRefSigner(secret []byte, ttl time.Duration) *RefSigner {
	if ttl <= 0 {
		ttl = DefaultRefTTL
	}
	return &RefSigner{
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sign produces an opaque reference for the given document and principal.
func (s *RefSigner) Sign(documentID, principalID, contentKey string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("content reference secret is not configured")
	}
	now := s.now()
	claims := RefClaims{
		DocumentID: documentID,
		ContentKey: contentKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    refIssuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign content reference: %w", err)
	}
	return signed, nil
}

// Verify checks a reference and returns its claims. The rendering collaborator
// calls this before serving bytes.
func (s *RefSigner) Verify(ref string) (*RefClaims, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidRef
	}
	parsed, err := jwt.ParseWithClaims(ref, &RefClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidRef
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidRef
	}
	claims, ok := parsed.Claims.(*RefClaims)
	if !ok || !parsed.Valid || claims.Issuer != refIssuer {
		return nil, ErrInvalidRef
	}
	if claims.DocumentID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidRef
	}
	return claims, nil
}
