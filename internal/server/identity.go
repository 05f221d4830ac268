package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/canvas"
	"github.com/golang-jwt/jwt/v5"
)

// identityClaims is the JWT claim shape issued by the identity service.
type identityClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier is the default IdentityVerifier: HMAC-signed tokens whose
// subject is the user id.
type JWTVerifier struct {
	secret []byte
}

var _ canvas.IdentityVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) VerifyIdentity(_ context.Context, tokenString string) (*canvas.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &identityClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing 'sub' claim")
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &canvas.Identity{UserID: claims.Subject, Name: name}, nil
}
