// Package pgexport reads service costs from a cloud billing export loaded into PostgreSQL.
package pgexport

import (
	"context"
	"fmt"
	"regexp"

	"github.com/echolog/echolog-server/internal/billing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "gcp_billing_export"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Querier is satisfied by *pgxpool.Pool and *pgx.Conn.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Warehouse queries an export table with the standard columns:
// service_description, sku_description, cost, credits_amount, usage_start_time.
type Warehouse struct {
	db    Querier
	table string
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn, table string) (*Warehouse, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgexport: connect: %w", err)
	}
	if errPing := pool.Ping(ctx); errPing != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgexport: ping: %w", errPing)
	}
	warehouse, errNew := New(pool, table)
	if errNew != nil {
		pool.Close()
		return nil, nil, errNew
	}
	return warehouse, pool, nil
}

// New validates the table name and builds a Warehouse.
func New(db Querier, table string) (*Warehouse, error) {
	if table == "" {
		table = defaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("pgexport: invalid table name %q", table)
	}
	return &Warehouse{db: db, table: table}, nil
}

// Name identifies the backend.
func (w *Warehouse) Name() string { return "billing_export" }

// ServiceCosts groups the export by service and SKU within the window.
func (w *Warehouse) ServiceCosts(ctx context.Context, window billing.Window) ([]billing.CostRow, error) {
	query := fmt.Sprintf(`
		SELECT service_description,
		       sku_description,
		       COALESCE(SUM(cost), 0)::float8 AS cost_total,
		       COALESCE(SUM(credits_amount), 0)::float8 AS credits_used
		  FROM %s
		 WHERE usage_start_time >= $1 AND usage_start_time < $2
		 GROUP BY service_description, sku_description
		 ORDER BY cost_total DESC`, w.table)

	rows, err := w.db.Query(ctx, query, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("pgexport: query service costs: %w", err)
	}
	defer rows.Close()

	var out []billing.CostRow
	for rows.Next() {
		var (
			service, sku   *string
			cost, credits float64
		)
		if errScan := rows.Scan(&service, &sku, &cost, &credits); errScan != nil {
			return nil, fmt.Errorf("pgexport: scan service costs: %w", errScan)
		}
		row := billing.CostRow{Cost: cost, Credits: credits}
		if service != nil {
			row.ServiceDescription = *service
		}
		if sku != nil {
			row.SKUDescription = *sku
		}
		out = append(out, row)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, fmt.Errorf("pgexport: iterate service costs: %w", errRows)
	}
	return out, nil
}

// AllTimeTotal sums gross cost over the whole table.
func (w *Warehouse) AllTimeTotal(ctx context.Context) (float64, error) {
	var total float64
	query := fmt.Sprintf(`SELECT COALESCE(SUM(cost), 0)::float8 FROM %s`, w.table)
	if err := w.db.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("pgexport: query all-time total: %w", err)
	}
	return total, nil
}
