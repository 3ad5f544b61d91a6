// Package bridge is the phone end of the device sync link.
//
// It serves the websocket endpoint the watch dials, authenticated by a
// short-lived pairing token derived from the shared device secret, and
// exposes the push endpoints the phone UI uses to publish authoritative
// state onto the channel.
package bridge

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenExpiry bounds how long an issued pairing token stays valid.
const DefaultTokenExpiry = 24 * time.Hour

const tokenIssuer = "sit-bridge"

var errInvalidToken = errors.New("invalid pairing token")

// PairClaims identifies the paired watch device.
type PairClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// CreatePairToken issues an HS256 pairing token for the given device.
func CreatePairToken(deviceID, secret string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("missing device secret")
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	claims := PairClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyPairToken validates a pairing token and returns its claims.
func VerifyPairToken(tokenString, secret string) (*PairClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PairClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*PairClaims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}
