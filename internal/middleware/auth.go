// Package middleware содержит HTTP middleware сервиса книжного магазина.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/frontierbooks/bookstore-system/internal/model"
	"github.com/frontierbooks/bookstore-system/internal/token"
)

type contextKey string

const principalKey contextKey = "principal"

const bearerPrefix = "Bearer "

// AuthMiddleware выполняет аутентификацию пользователя по bearer-токену.
type AuthMiddleware struct {
	tokens *token.Manager
}

// NewAuthMiddleware создаёт middleware аутентификации поверх менеджера токенов.
func NewAuthMiddleware(tokens *token.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Middleware извлекает токен из заголовка Authorization и добавляет субъекта в контекст запроса.
// Отсутствующий или неверно оформленный заголовок отклоняется до проверки подписи.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if raw == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		principal, err := a.tokens.Verify(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы субъектов с ролью администратора.
// Ставится после Middleware: валидный токен с недостаточной ролью получает 403.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if !principal.IsAdmin() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetPrincipalFromContext извлекает аутентифицированного субъекта из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}
