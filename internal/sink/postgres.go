// Package sink persists cleaned tables to the operational Postgres
// store and the analytical warehouse.
package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/kiotdata/retail-ingest/internal/cleaning"
)

// ErrEmptyTable marks a sink write attempted with zero rows. An empty
// table at sink time is a file-level failure, not a silent no-op.
var ErrEmptyTable = errors.New("no rows to insert")

// Postgres writes cleaned tables into the normalized operational
// schema: branches, products, transactions, and transaction_details.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to Postgres and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const operationalDDL = `
CREATE TABLE IF NOT EXISTS branches (
	id SERIAL PRIMARY KEY,
	ma_chi_nhanh VARCHAR(50) UNIQUE NOT NULL,
	ten_chi_nhanh VARCHAR(255),
	dia_chi TEXT,
	thanh_pho VARCHAR(100),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS products (
	id SERIAL PRIMARY KEY,
	ma_hang VARCHAR(50) UNIQUE NOT NULL,
	ma_vach VARCHAR(100),
	ten_hang VARCHAR(500),
	thuong_hieu VARCHAR(200),
	nhom_hang_cap_1 VARCHAR(200),
	nhom_hang_cap_2 VARCHAR(200),
	nhom_hang_cap_3 VARCHAR(200),
	gia_von_mac_dinh DECIMAL(15,2),
	gia_ban_mac_dinh DECIMAL(15,2),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id SERIAL PRIMARY KEY,
	ma_giao_dich VARCHAR(100) NOT NULL,
	chi_nhanh_id INTEGER REFERENCES branches(id),
	thoi_gian TIMESTAMP NOT NULL,
	tong_tien_hang DECIMAL(15,2),
	giam_gia DECIMAL(15,2),
	doanh_thu DECIMAL(15,2),
	tong_gia_von DECIMAL(15,2),
	loi_nhuan_gop DECIMAL(15,2),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(ma_giao_dich, thoi_gian)
);

CREATE TABLE IF NOT EXISTS transaction_details (
	id SERIAL PRIMARY KEY,
	giao_dich_id INTEGER REFERENCES transactions(id),
	product_id INTEGER REFERENCES products(id),
	so_luong INTEGER NOT NULL,
	gia_ban DECIMAL(15,2),
	gia_von DECIMAL(15,2),
	loi_nhuan DECIMAL(15,2),
	tong_loi_nhuan DECIMAL(15,2),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(giao_dich_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_time ON transactions(thoi_gian);
CREATE INDEX IF NOT EXISTS idx_transactions_branch ON transactions(chi_nhanh_id);
CREATE INDEX IF NOT EXISTS idx_transaction_details_product ON transaction_details(product_id);
CREATE INDEX IF NOT EXISTS idx_products_ma_hang ON products(ma_hang);
`

// InitSchema creates the operational tables and indexes if absent.
// The detail table carries UNIQUE(giao_dich_id, product_id) so a
// replayed file upserts instead of duplicating line items.
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, operationalDDL); err != nil {
		return fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	log.Printf("[sink] PostgreSQL schema initialized")
	return nil
}

// InsertTransactions loads a cleaned table into the normalized schema:
// branches and products first, then transaction headers, then line
// items. Every statement is conflict-tolerant, so re-running the same
// file is a no-op. Returns the number of line items written.
func (p *Postgres) InsertTransactions(ctx context.Context, t *cleaning.Table) (int, error) {
	if len(t.Rows) == 0 {
		return 0, ErrEmptyTable
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := p.insertBranches(ctx, tx, t); err != nil {
		return 0, err
	}
	if err := p.insertProducts(ctx, tx, t); err != nil {
		return 0, err
	}
	if err := p.insertHeaders(ctx, tx, t); err != nil {
		return 0, err
	}
	inserted, errCount := p.insertDetails(ctx, tx, t)

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	if errCount > 0 {
		log.Printf("[sink] %d of %d line items skipped on error", errCount, len(t.Rows))
	}
	return inserted, nil
}

func (p *Postgres) insertBranches(ctx context.Context, tx *sql.Tx, t *cleaning.Table) error {
	seen := make(map[string]bool)
	for _, row := range t.Rows {
		name := cleaning.String(row, "chi_nhanh")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		_, err := tx.ExecContext(ctx,
			`INSERT INTO branches (ma_chi_nhanh, ten_chi_nhanh)
			VALUES ($1, $2)
			ON CONFLICT (ma_chi_nhanh) DO NOTHING`,
			branchCode(name), name)
		if err != nil {
			return fmt.Errorf("failed to insert branch %q: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) insertProducts(ctx context.Context, tx *sql.Tx, t *cleaning.Table) error {
	seen := make(map[string]bool)
	for _, row := range t.Rows {
		code := cleaning.String(row, "ma_hang")
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		_, err := tx.ExecContext(ctx,
			`INSERT INTO products (ma_hang, ma_vach, ten_hang, thuong_hieu,
				nhom_hang_cap_1, nhom_hang_cap_2, nhom_hang_cap_3,
				gia_von_mac_dinh, gia_ban_mac_dinh)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (ma_hang) DO UPDATE SET
				ma_vach = EXCLUDED.ma_vach,
				ten_hang = EXCLUDED.ten_hang,
				updated_at = CURRENT_TIMESTAMP`,
			code,
			cleaning.String(row, "ma_vach"),
			cleaning.String(row, "ten_hang"),
			cleaning.String(row, "thuong_hieu"),
			cleaning.String(row, "cap_1"),
			cleaning.String(row, "cap_2"),
			cleaning.String(row, "cap_3"),
			cleaning.Float(row, "gia_von_sp"),
			cleaning.Float(row, "gia_ban_sp"))
		if err != nil {
			return fmt.Errorf("failed to insert product %q: %w", code, err)
		}
	}
	return nil
}

func (p *Postgres) insertHeaders(ctx context.Context, tx *sql.Tx, t *cleaning.Table) error {
	seen := make(map[string]bool)
	for _, row := range t.Rows {
		txID := cleaning.String(row, "ma_giao_dich")
		if txID == "" || seen[txID] {
			continue
		}
		seen[txID] = true

		var branchID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM branches WHERE ma_chi_nhanh = $1`,
			branchCode(cleaning.String(row, "chi_nhanh"))).Scan(&branchID.Int64)
		if err == nil {
			branchID.Valid = true
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up branch for %q: %w", txID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions
				(ma_giao_dich, chi_nhanh_id, thoi_gian, tong_tien_hang,
				 giam_gia, doanh_thu, tong_gia_von, loi_nhuan_gop)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (ma_giao_dich, thoi_gian) DO NOTHING`,
			txID, branchID,
			cleaning.Time(row, "thoi_gian"),
			aggregate(row, "tong_tien_hang"),
			aggregate(row, "giam_gia"),
			aggregate(row, "doanh_thu"),
			aggregate(row, "tong_gia_von"),
			aggregate(row, "loi_nhuan_gop"))
		if err != nil {
			return fmt.Errorf("failed to insert transaction %q: %w", txID, err)
		}
	}
	return nil
}

// insertDetails writes line items one by one under savepoints, so a
// single bad row does not poison the surrounding transaction.
func (p *Postgres) insertDetails(ctx context.Context, tx *sql.Tx, t *cleaning.Table) (int, int) {
	inserted, errCount := 0, 0
	for _, row := range t.Rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT detail_sp"); err != nil {
			errCount++
			continue
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_details
				(giao_dich_id, product_id, so_luong, gia_ban, gia_von,
				 loi_nhuan, tong_loi_nhuan)
			SELECT tr.id, pr.id, $3, $4, $5, $6, $7
			FROM transactions tr, products pr
			WHERE tr.ma_giao_dich = $1 AND pr.ma_hang = $2
			ON CONFLICT (giao_dich_id, product_id) DO NOTHING`,
			cleaning.String(row, "ma_giao_dich"),
			cleaning.String(row, "ma_hang"),
			cleaning.Int(row, "sl"),
			cleaning.Float(row, "gia_ban_sp"),
			cleaning.Float(row, "gia_von_sp"),
			cleaning.Float(row, "loi_nhuan_sp"),
			cleaning.Float(row, "tong_loi_nhuan_hang_hoa"))
		if err != nil {
			tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT detail_sp")
			errCount++
			continue
		}

		tx.ExecContext(ctx, "RELEASE SAVEPOINT detail_sp")
		inserted++
	}
	return inserted, errCount
}

// branchCode derives the natural key from a branch name, truncated to
// the column width.
func branchCode(name string) string {
	runes := []rune(name)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

// aggregate reads a transaction-grain value, preferring the
// period-level source column over the bare one.
func aggregate(row map[string]any, col string) float64 {
	if _, ok := row[col+"_theo_thoi_gian"]; ok {
		return cleaning.Float(row, col+"_theo_thoi_gian")
	}
	return cleaning.Float(row, col)
}
