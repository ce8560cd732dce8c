package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid        = errors.New("invalid token")
	ErrExpired        = errors.New("token expired")
	ErrMissingSubject = errors.New("token has no subject")
)

// Manager issues and parses HS256 session tokens carrying the user id as subject.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *Manager) NewToken(userID int64) (string, error) {
	return m.NewTokenWithTTL(userID, m.ttl)
}

func (m *Manager) NewTokenWithTTL(userID int64, ttl time.Duration) (string, error) {
	const op = "jwt.NewToken"

	now := issueTime(m.now())

	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// issueTime rounds now up to a whole second. NumericDate drops sub-second
// precision, and a truncated exp would end the token before now+ttl.
func issueTime(now time.Time) time.Time {
	if t := now.Truncate(time.Second); !t.Equal(now) {
		return t.Add(time.Second)
	}

	return now
}

// * ParseToken проверяет подпись и срок действия токена и возвращает id пользователя
func (m *Manager) ParseToken(tokenStr string) (int64, error) {
	claims := &jwt.RegisteredClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpired
		}

		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Subject == "" {
		return 0, ErrMissingSubject
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalid)
	}

	return userID, nil
}
