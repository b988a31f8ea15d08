package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// ServiceRole is the database role that bypasses row level security.
const ServiceRole = "service_role"

// Claims is the request.jwt.claims document made visible to RLS policies.
type Claims map[string]interface{}

// validRoleName restricts role names to identifiers; SET LOCAL ROLE takes no parameters.
var validRoleName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RoleForKey derives the database role a credential key stands for. Supabase
// style keys are JWTs carrying a "role" claim; the signature is checked by the
// API gateway, not here. A bare identifier is taken as the role name itself.
func RoleForKey(key string) (string, error) {
	if validRoleName.MatchString(key) {
		return key, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return "", fmt.Errorf("credential key is neither a role name nor a JWT: %w", err)
	}
	role, _ := claims["role"].(string)
	if !validRoleName.MatchString(role) {
		return "", fmt.Errorf("credential key carries no usable role claim")
	}
	return role, nil
}

// claimsFor builds the claims document for role acting on behalf of caller.
func claimsFor(role string, caller *datastore.Caller) Claims {
	c := Claims{"role": role}
	if caller != nil {
		c["sub"] = caller.UserID
		c["username"] = caller.Username
		c["app_role"] = caller.Role
	}
	return c
}

// ExecuteWithRLS runs fn in a transaction that carries role and claims.
// service_role skips SET LOCAL ROLE and so bypasses RLS.
func ExecuteWithRLS[T any](
	ctx context.Context,
	pool *pgxpool.Pool,
	role string,
	claims Claims,
	fn func(tx pgx.Tx) (T, error),
) (T, error) {
	var zero T

	if role != ServiceRole && !validRoleName.MatchString(role) {
		return zero, fmt.Errorf("invalid role name: %s", role)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if role != ServiceRole {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL ROLE "%s"`, role)); err != nil {
			return zero, fmt.Errorf("set role %s: %w", role, err)
		}
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return zero, fmt.Errorf("encode claims: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(claimsJSON)); err != nil {
		return zero, fmt.Errorf("set jwt claims: %w", err)
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true)`, sub); err != nil {
			return zero, fmt.Errorf("set jwt sub: %w", err)
		}
	}

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}
