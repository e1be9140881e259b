package relaytoken

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	secretOnce sync.Once
	secretKey  []byte
)

func getSecret() []byte {
	secretOnce.Do(func() {
		key := os.Getenv("DUALCHAT_RELAY_SECRET")
		if key == "" {
			key = "dev-secret-change-me" // development fallback
		}
		secretKey = []byte(key)
	})
	return secretKey
}

// Issue returns a signed relay access token bound to the caller's stable id.
func Issue(stableID string) (string, error) {
	claims := jwt.MapClaims{
		"stable_id": stableID,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSecret())
}

// Validate checks signature and expiry, returning the embedded stable id.
func Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("empty token")
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return getSecret(), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if id, ok := claims["stable_id"].(string); ok {
			return id, nil
		}
	}
	return "", errors.New("invalid token claims")
}
