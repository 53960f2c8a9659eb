package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

var ErrAccessDenied = fmt.Errorf("%w: role is not allowed to perform this action", ErrUnauthorized)

// Grant protects a route. The caller must present a valid bearer token
// whose role is allowed to perform action on resource. The identity is
// then available to the handler through GetIdentityFromContext.
func (api *APIHandler) Grant(action Action, resource Resource, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		identity, err := ParseAccessToken(&api.config.Auth, r.Header.Get("Authorization"), api.clock.Now())
		if err != nil {
			message := "invalid access token"
			if errors.Is(err, ErrMissingToken) {
				message = "missing access token"
			}
			api.fail(w, r, http.StatusUnauthorized, message, EmptyData, err)
			return
		}

		if !Can(identity.Role, action, resource) {
			api.GetLoggerFromContext(r.Context()).Warn("access denied",
				zap.String("user.id", identity.UserID),
				zap.String("user.role", string(identity.Role)),
				zap.String("access.action", string(action)),
				zap.String("access.resource", string(resource)),
			)
			api.fail(w, r, http.StatusUnauthorized, "not allowed to perform this action", EmptyData, ErrAccessDenied)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		if logger, ok := ctx.Value(LoggerContextKey).(*zap.Logger); ok && logger != nil {
			ctx = context.WithValue(ctx, LoggerContextKey, logger.With(zap.String("user.id", identity.UserID)))
		}
		next(w, r.WithContext(ctx), ps)
	}
}
