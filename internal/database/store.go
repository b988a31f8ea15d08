package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// DefaultSchema holds the application tables.
const DefaultSchema = "public"

// Store executes datastore queries directly against PostgreSQL. Each call
// runs in its own transaction under the role bound to the credential.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	roles  map[datastore.Credential]string
	logger *slog.Logger
}

// NewStore binds the anonymous and service credential keys to database roles.
func NewStore(pool *pgxpool.Pool, anonKey, serviceKey string, logger *slog.Logger) (*Store, error) {
	anon, err := RoleForKey(anonKey)
	if err != nil {
		return nil, fmt.Errorf("anonymous key: %w", err)
	}
	service, err := RoleForKey(serviceKey)
	if err != nil {
		return nil, fmt.Errorf("service key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		schema: DefaultSchema,
		roles: map[datastore.Credential]string{
			datastore.AnonCredential:    anon,
			datastore.ServiceCredential: service,
		},
		logger: logger.With("component", "pgstore"),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, err, apperr.MsgStoreUnavailable)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Execute(ctx context.Context, cred datastore.Credential, q *datastore.Query) (*datastore.Result, error) {
	role, ok := s.roles[cred]
	if !ok {
		return nil, fmt.Errorf("unknown credential %v", cred)
	}

	res, err := ExecuteWithRLS(ctx, s.pool, role, claimsFor(role, q.Caller), func(tx pgx.Tx) (*datastore.Result, error) {
		if q.Method == datastore.Upsert && len(q.OnConflict) == 0 {
			pk, err := primaryKey(ctx, tx, s.schema, q.Table)
			if err != nil {
				return nil, err
			}
			clone := *q
			clone.OnConflict = pk
			q = &clone
		}

		st, err := buildStatement(s.schema, q)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("executing statement", "table", q.Table, "method", q.Method.String(), "role", role)

		out := &datastore.Result{Rows: []map[string]interface{}{}}
		if st.rows {
			rows, err := tx.Query(ctx, st.sql, st.args...)
			if err != nil {
				return nil, err
			}
			if out.Rows, err = collectRows(rows); err != nil {
				return nil, err
			}
			if err := checkSingle(q, len(out.Rows)); err != nil {
				return nil, err
			}
		} else {
			tag, err := tx.Exec(ctx, st.sql, st.args...)
			if err != nil {
				return nil, err
			}
			if err := checkSingle(q, int(tag.RowsAffected())); err != nil {
				return nil, err
			}
			if q.Count {
				n := int(tag.RowsAffected())
				out.Count = &n
			}
		}

		if st.countSQL != "" {
			var n int64
			if err := tx.QueryRow(ctx, st.countSQL, st.args...).Scan(&n); err != nil {
				return nil, err
			}
			c := int(n)
			out.Count = &c
		}
		return out, nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

// checkSingle fails a single-row query that touched n rows. It runs inside
// the transaction so a failing write is rolled back.
func checkSingle(q *datastore.Query, n int) error {
	if q.Single && n != 1 {
		return datastore.SingleRowError(n)
	}
	return nil
}

// translateError maps driver failures to the store error model. Only
// PostgreSQL errors are passed through to clients.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &datastore.Error{
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
			Code:    pgErr.Code,
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.StoreUnavailable, err, apperr.MsgStoreUnavailable)
	}
	return err
}
