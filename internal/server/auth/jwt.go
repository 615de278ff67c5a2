// Package auth issues and validates the HS256 access tokens carried in the
// access_token metadata key.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the account the token was issued to.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"aid"`
	DeviceID  string `json:"did,omitempty"`
}

// GenerateToken signs a token for accountID that expires after validity.
func GenerateToken(accountID, deviceID string, secretKey []byte, validity time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(validity)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		AccountID: accountID,
		DeviceID:  deviceID,
	})

	signed, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseToken validates tokenString and returns its claims. Expired tokens
// yield common.ErrTokenExpired, anything else invalid common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	case !token.Valid || claims.AccountID == "":
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
