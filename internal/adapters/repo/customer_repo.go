package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	sync "github.com/reybrally/customer-sync-service/internal/app/sync"
	domain "github.com/reybrally/customer-sync-service/internal/domain/customer"
	"github.com/reybrally/customer-sync-service/internal/logging"
)

const stagingTable = "staging_customers"

const (
	// Single-statement upsert keyed on customer_id: atomic against
	// concurrent writers, so correctness does not lean on broker ordering.
	// xmax = 0 only for freshly inserted rows, which is how created is
	// told apart from updated.
	qUpsert = `INSERT INTO staging_customers (
    customer_id, email, first_name, last_name, phone, status, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (customer_id) DO UPDATE SET
    email      = EXCLUDED.email,
    first_name = EXCLUDED.first_name,
    last_name  = EXCLUDED.last_name,
    phone      = EXCLUDED.phone,
    status     = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
RETURNING
    customer_id, email, first_name, last_name, phone, status, updated_at,
    (xmax = 0) AS inserted;`

	qDelete = `DELETE FROM staging_customers WHERE customer_id = $1;`

	qSchema = `SELECT to_regclass('public.staging_customers');`

	qCount = `SELECT COUNT(*) FROM staging_customers;`
)

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo { return &CustomerRepo{pool: pool} }

// CheckSchema fails with ErrSchemaMissing when the staging table is absent.
// That is a deployment error, not a transient condition.
func (r *CustomerRepo) CheckSchema(ctx context.Context) error {
	var reg *string
	if err := r.pool.QueryRow(ctx, qSchema).Scan(&reg); err != nil {
		return err
	}
	if reg == nil {
		return sync.ErrSchemaMissing
	}
	return nil
}

func (r *CustomerRepo) UpsertCustomer(ctx context.Context, c domain.Customer) (domain.Customer, bool, error) {
	var (
		out      domain.Customer
		inserted bool
	)
	err := r.pool.QueryRow(ctx, qUpsert,
		c.CustomerID, c.Email, c.FirstName, c.LastName, c.Phone, c.Status, c.UpdatedAt,
	).Scan(&out.CustomerID, &out.Email, &out.FirstName, &out.LastName,
		&out.Phone, &out.Status, &out.UpdatedAt, &inserted)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return domain.Customer{}, false, sync.ErrTimeout
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, false, sync.ErrUnexpected
		}
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) {
			switch pgerr.Code {
			case "23502", "23514", "22001", "22P02":
				return domain.Customer{}, false, sync.ErrInvalidData
			case "40001", "40P01":
				return domain.Customer{}, false, sync.ErrRetryable
			}
		}
		return domain.Customer{}, false, err
	}
	return out, inserted, nil
}

func (r *CustomerRepo) DeleteCustomer(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, qDelete, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return sync.ErrTimeout
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return sync.ErrNotFound
	}
	return nil
}

// Health runs a liveness probe plus a row count for the health endpoint.
func (r *CustomerRepo) Health(ctx context.Context) (sync.DatabaseHealth, error) {
	var one int
	if err := r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return sync.DatabaseHealth{Status: "unhealthy", Schema: stagingTable}, err
	}
	var count int64
	if err := r.pool.QueryRow(ctx, qCount).Scan(&count); err != nil {
		return sync.DatabaseHealth{Status: "unhealthy", Schema: stagingTable}, err
	}
	return sync.DatabaseHealth{Status: "healthy", RecordCount: count, Schema: stagingTable}, nil
}

func (r *CustomerRepo) Close() {
	logging.LogDebug("closing staging pool", logrus.Fields{})
	r.pool.Close()
}
