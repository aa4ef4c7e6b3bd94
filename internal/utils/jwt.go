package utils // package utils provides helpers shared by middleware and handlers

import (
    "errors"
    "fmt"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any bearer token that fails to parse,
// verify or carry a usable subject.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims is what the API needs from an access token.  Tokens are
// issued by the platform's auth service with HS256, sub = user id and a
// role claim.
type AccessClaims struct {
    UserID uint64
    Role   string
}

// NewAccessToken signs an HS256 token with the same claim layout the auth
// service uses.  The payment service only verifies tokens; this exists for
// local tooling and tests.
func NewAccessToken(secret string, userID uint64, role string, ttl time.Duration) (string, error) {
    now := time.Now().UTC()
    claims := jwt.MapClaims{
        "sub":  strconv.FormatUint(userID, 10),
        "role": role,
        "exp":  now.Add(ttl).Unix(),
        "iat":  now.Unix(),
    }
    return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAccessToken verifies raw with secret and extracts its claims.  Only
// HMAC signed tokens are accepted.
func ParseAccessToken(secret, raw string) (AccessClaims, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    }, jwt.WithExpirationRequired())
    if err != nil || !tok.Valid {
        return AccessClaims{}, ErrInvalidToken
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return AccessClaims{}, ErrInvalidToken
    }

    var out AccessClaims
    switch sub := claims["sub"].(type) {
    case string:
        n, err := strconv.ParseUint(sub, 10, 64)
        if err != nil {
            return AccessClaims{}, ErrInvalidToken
        }
        out.UserID = n
    case float64:
        out.UserID = uint64(sub)
    default:
        return AccessClaims{}, ErrInvalidToken
    }
    out.Role, _ = claims["role"].(string)
    return out, nil
}
