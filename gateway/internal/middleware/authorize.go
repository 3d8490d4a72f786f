package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/logx"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// AdminRole is the internal role every configured admin role maps onto.
const AdminRole = "admin"

// NewEnforcer grants the admin surface under prefix to every role in adminRoles.
func NewEnforcer(prefix string, adminRoles []string) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimRight(prefix, "/")
	if _, err := e.AddPolicy(AdminRole, prefix+"/*", "*"); err != nil {
		return nil, err
	}
	if len(adminRoles) == 0 {
		return nil, errors.New("at least one admin role is required")
	}
	for _, role := range adminRoles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || role == AdminRole {
			continue
		}
		if _, err := e.AddGroupingPolicy(role, AdminRole); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AuthorizeMiddleware checks the caller's roles against the policy for the
// request path and method.
type AuthorizeMiddleware struct {
	Enforcer *casbin.Enforcer
	Logger   logx.Logger
	Skip     func(*http.Request) bool
}

func (m AuthorizeMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		id, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteAppError(w, r, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}
		if m.Enforcer == nil {
			httpx.WriteAppError(w, r, apperr.New(apperr.ServiceUnavailable, "authorization not configured"))
			return
		}
		for _, role := range id.Roles {
			allowed, err := m.Enforcer.Enforce(strings.ToLower(strings.TrimSpace(role)), r.URL.Path, r.Method)
			if err != nil {
				m.Logger.Error(r.Context(), "authorize_failed", "policy evaluation failed",
					slog.String("error_code", string(apperr.Internal)),
					slog.String("error", err.Error()),
				)
				httpx.WriteAppError(w, r, apperr.Wrap(err, apperr.Internal, "authorization failed"))
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
		}
		m.Logger.Warn(r.Context(), "authorize_denied", "caller lacks an admin role",
			slog.String("error_code", string(apperr.Forbidden)),
			slog.String("subject", id.Subject),
			slog.Any("roles", id.Roles),
		)
		httpx.WriteAppError(w, r, apperr.New(apperr.Forbidden, "admin role required"))
	})
}
