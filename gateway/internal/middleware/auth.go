package middleware

import (
	"log/slog"
	"net/http"

	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/logx"
)

// AuthMiddleware resolves the caller identity once per request. The raw
// credential is dropped from the request after verification.
type AuthMiddleware struct {
	Verifier authx.Verifier
	Logger   logx.Logger
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Verifier == nil {
			httpx.WriteAppError(w, r, apperr.New(apperr.ServiceUnavailable, "auth verifier not configured"))
			return
		}

		token, err := authx.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			httpx.WriteAppError(w, r, apperr.Wrap(err, apperr.Unauthorized, "missing bearer token"))
			return
		}
		id, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			m.Logger.Warn(r.Context(), "auth_rejected", "bearer token rejected",
				slog.String("error_code", string(apperr.Unauthorized)),
				slog.String("error", err.Error()),
			)
			httpx.WriteAppError(w, r, apperr.Wrap(err, apperr.Unauthorized, "invalid token"))
			return
		}

		httpx.SetActor(r.Context(), id.Subject)
		r.Header.Del("Authorization")
		next.ServeHTTP(w, r.WithContext(authx.WithIdentity(r.Context(), id)))
	})
}
