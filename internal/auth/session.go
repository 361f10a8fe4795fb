// internal/auth/session.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/roomcoord/internal/models"
)

var ErrMissingPlayer = errors.New("token carries no userId")

// Claims is the credential issued to players by the account service.
type Claims struct {
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 bearer credentials against a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// VerifyCredential parses tokenString and returns the identity it vouches for.
func (v *JWTVerifier) VerifyCredential(_ context.Context, tokenString string) (models.Identity, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Identity{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return models.Identity{}, errors.New("invalid token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return models.Identity{}, ErrMissingPlayer
	}
	ident := models.Identity{PlayerID: userID, WalletAddress: claims.WalletAddress}
	if claims.ExpiresAt != nil {
		ident.ExpiresAt = claims.ExpiresAt.Time
	}
	return ident, nil
}

// CreateJWT signs a credential for userID. A ttl of zero issues a token without exp.
func (v *JWTVerifier) CreateJWT(userID, wallet string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:        userID,
		WalletAddress: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
