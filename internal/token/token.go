// Package token реализует выпуск и проверку подписанных токенов доступа.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frontierbooks/bookstore-system/internal/model"
)

// ErrTokenExpired возвращается при проверке токена с истёкшим сроком действия.
var (
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed возвращается для токена с неверной подписью или без обязательных полей.
	ErrTokenMalformed = errors.New("token malformed or forged")
)

// Manager выпускает и проверяет токены доступа. После создания не изменяется.
type Manager struct {
	secret []byte
	method jwt.SigningMethod
}

type claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NewManager создаёт менеджер токенов с указанным секретным ключом.
// При пустом секрете генерируется случайный ключ: такие токены переживут
// только текущий процесс.
func NewManager(secret string) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("default-secret-key")
		}
	}

	return &Manager{
		secret: key,
		method: jwt.SigningMethodHS256,
	}
}

// Issue выпускает подписанный токен для пользователя с указанной ролью и сроком действия.
func (m *Manager) Issue(userID int64, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()

	t := jwt.NewWithClaims(m.method, claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify проверяет подпись и срок действия токена и возвращает вложенного субъекта.
// Проверка не обращается к хранилищу: токен самодостаточен.
func (m *Manager) Verify(tok string) (model.Principal, error) {
	var c claims

	_, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{m.method.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, ErrTokenExpired
		}
		return model.Principal{}, ErrTokenMalformed
	}

	if c.UserID == 0 || c.Role == "" {
		return model.Principal{}, ErrTokenMalformed
	}

	return model.Principal{
		UserID: c.UserID,
		Role:   model.Role(c.Role),
	}, nil
}
