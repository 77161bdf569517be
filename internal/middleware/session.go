// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションクレームを格納するためのキー。
var sessionContextKey = contextKey("session")

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
// session.Issuerの部分集合として定義する。
type TokenVerifier interface {
	Verify(token string, want session.Stage) (*session.Claims, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーがない場合や形式が異なる場合は空文字を返す。
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewSessionMiddleware はBearerトークンを指定段階で検証するミドルウェアを返す。
// 検証済みクレームをリクエストコンテキストに注入する。
// トークンがない、または不正な場合は401 Unauthorizedを返す。
func NewSessionMiddleware(verifier TokenVerifier, stage session.Stage) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
				return
			}

			claims, err := verifier.Verify(token, stage)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
				return
			}

			setLogSubject(r.Context(), claims.SubjectID())
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), claims)))
		})
	}
}

// NewRequireRoleMiddleware は指定ロール以外のセッションに403 Forbiddenを返すミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func NewRequireRoleMiddleware(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := SessionFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
				return
			}
			if claims.Role != role {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションクレームを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(sessionContextKey).(*session.Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// ContextWithSession はコンテキストにセッションクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, sessionContextKey, claims)
}
