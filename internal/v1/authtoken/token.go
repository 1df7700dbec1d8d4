// Package authtoken mints and verifies the self-issued participant tokens
// that realize spec §3's "server-minted opaque token" participant id
// (SPEC_FULL.md §3). It replaces the teacher's Auth0/JWKS validator: there
// is no external identity provider in this domain, so the server signs its
// own claims with a single HMAC secret instead of fetching JWKS keys.
package authtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ukunda/rdm/internal/v1/types"
)

// Claims binds a participant id to the room it was minted for, so a token
// issued for one room is rejected by another room's signaling handshake
// (SPEC_FULL.md testable property 14).
type Claims struct {
	jwt.RegisteredClaims
	ParticipantID string `json:"participant_id"`
	RoomCode      string `json:"room_code"`
	Username      string `json:"username"`
}

// Minter issues and verifies participant tokens using a shared HMAC secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
}

// NewMinter builds a Minter. ttl bounds how long a minted token is valid;
// callers re-mint on every join/create call, so this just needs to outlive
// a single session (defaulting to the room expiry horizon upstream).
func NewMinter(secret string, ttl time.Duration) *Minter {
	return &Minter{secret: []byte(secret), ttl: ttl}
}

// Mint issues a signed token for participantID joining roomCode as username.
func (m *Minter) Mint(participantID types.ParticipantID, roomCode types.RoomCode, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(participantID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		ParticipantID: string(participantID),
		RoomCode:      string(roomCode),
		Username:      username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign participant token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature and that it was minted for roomCode,
// returning the bound claims on success.
func (m *Minter) Verify(tokenString string, roomCode types.RoomCode) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse participant token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("participant token is not valid")
	}
	if claims.RoomCode != string(roomCode) {
		return nil, fmt.Errorf("participant token was not issued for this room")
	}
	return claims, nil
}
