package storage

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
)

// Repository owns the customers, loyalty_history and coupons tables.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.pool.WithTx(ctx, fn)
}

func (r *Repository) querier(q db.Querier) db.Querier {
	if q == nil {
		return r.pool
	}
	return q
}

const customerColumns = `id, tenant_id, COALESCE(user_id::text, ''), first_name, last_name, email, phone,
	status, loyalty_points, loyalty_tier, notes, created_at, updated_at`

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Status, &c.LoyaltyPoints, &c.LoyaltyTier, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return model.Customer{}, apperr.NotFound("customer not found")
	}
	return c, translate(err, "a customer with this email already exists")
}

func (r *Repository) CreateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error) {
	if c.Status == "" {
		c.Status = model.CustomerActive
	}
	return scanCustomer(r.querier(q).QueryRow(ctx, `
		INSERT INTO customers (tenant_id, user_id, first_name, last_name, email, phone, status, loyalty_points, loyalty_tier, notes)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+customerColumns,
		c.TenantID, c.UserID, c.FirstName, c.LastName, strings.ToLower(c.Email), c.Phone, c.Status,
		c.LoyaltyPoints, c.LoyaltyTier, c.Notes))
}

func (r *Repository) GetCustomer(ctx context.Context, q db.Querier, tenantID, id string) (model.Customer, error) {
	return scanCustomer(r.querier(q).QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

func (r *Repository) GetCustomerForUpdate(ctx context.Context, q db.Querier, tenantID, id string) (model.Customer, error) {
	return scanCustomer(q.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id))
}

// FindCustomerForUpdate matches a booking's customer by linked user id first,
// then by email.
func (r *Repository) FindCustomerForUpdate(ctx context.Context, q db.Querier, tenantID, userID, email string) (model.Customer, error) {
	return scanCustomer(q.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1
			AND ((user_id IS NOT NULL AND user_id::text = $2) OR ($3 <> '' AND lower(email) = lower($3)))
		ORDER BY (user_id::text = $2) DESC NULLS LAST
		LIMIT 1
		FOR UPDATE
	`, tenantID, userID, email))
}

func (r *Repository) UpdateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error) {
	return scanCustomer(r.querier(q).QueryRow(ctx, `
		UPDATE customers
		SET first_name = $3, last_name = $4, email = $5, phone = $6, status = $7, notes = $8, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+customerColumns,
		c.TenantID, c.ID, c.FirstName, c.LastName, strings.ToLower(c.Email), c.Phone, c.Status, c.Notes))
}

func (r *Repository) DeleteCustomer(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if db.IsInvalidInput(err) {
		return apperr.NotFound("customer not found")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("customer not found")
	}
	return nil
}

func (r *Repository) SetLoyalty(ctx context.Context, q db.Querier, tenantID, id string, points int64, tier string) error {
	_, err := q.Exec(ctx, `
		UPDATE customers SET loyalty_points = $3, loyalty_tier = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, points, tier)
	return err
}

func (r *Repository) AppendLoyalty(ctx context.Context, q db.Querier, e model.LoyaltyEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO loyalty_history (tenant_id, customer_id, points, reason, previous_total, new_total, appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid)
	`, e.TenantID, e.CustomerID, e.Points, e.Reason, e.PreviousTotal, e.NewTotal, e.AppointmentID)
	return err
}

func (r *Repository) LoyaltyHistory(ctx context.Context, tenantID, customerID string) ([]model.LoyaltyEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, points, reason, previous_total, new_total, COALESCE(appointment_id::text, ''), created_at
		FROM loyalty_history
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY id DESC
		LIMIT 100
	`, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LoyaltyEntry{}
	for rows.Next() {
		var e model.LoyaltyEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Points, &e.Reason, &e.PreviousTotal, &e.NewTotal, &e.AppointmentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CustomerFilter narrows ListCustomers. Empty fields are ignored.
type CustomerFilter struct {
	TenantID string
	Search   string
	Status   string
	Tier     string
	Sort     string
}

// sortColumns maps API sort keys to ORDER BY expressions. A leading "-" on
// the key sorts descending.
var sortColumns = map[string]string{
	"createdAt":     "created_at",
	"firstName":     "first_name",
	"lastName":      "last_name",
	"email":         "email",
	"loyaltyPoints": "loyalty_points",
}

// ValidSort reports whether key is a supported sort key.
func ValidSort(key string) bool {
	_, ok := sortColumns[strings.TrimPrefix(key, "-")]
	return key == "" || ok
}

func (f CustomerFilter) orderBy() string {
	key, dir := f.Sort, "ASC"
	if strings.HasPrefix(key, "-") {
		key, dir = key[1:], "DESC"
	}
	col, ok := sortColumns[key]
	if !ok {
		col, dir = "created_at", "ASC"
	}
	return ` ORDER BY ` + col + ` ` + dir + `, id`
}

func (f CustomerFilter) where() (string, []any) {
	clause := ` WHERE tenant_id = $1`
	args := []any{f.TenantID}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := `$` + strconv.Itoa(len(args))
		clause += ` AND (first_name ILIKE ` + n + ` OR last_name ILIKE ` + n + ` OR email ILIKE ` + n +
			` OR phone ILIKE ` + n + ` OR (first_name || ' ' || last_name) ILIKE ` + n + `)`
	}
	if f.Status != "" {
		args = append(args, f.Status)
		clause += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.Tier != "" && f.Tier != "all" {
		args = append(args, strings.ToLower(f.Tier))
		clause += ` AND loyalty_tier = $` + strconv.Itoa(len(args))
	}
	return clause, args
}

func (r *Repository) ListCustomers(ctx context.Context, f CustomerFilter, page httpx.Page) ([]model.Customer, int64, error) {
	where, args := f.where()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers`+where+f.orderBy()+`
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func translate(err error, conflictMsg string) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return apperr.Conflict(conflictMsg)
	case db.IsForeignKeyViolation(err):
		return apperr.Validation("referenced record does not exist")
	}
	return err
}
