/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "muninnClaims"

// WithClaims attaches JWT claims to the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves JWT claims from context if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}
