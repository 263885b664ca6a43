package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // ClickHouse driver
	_ "github.com/snowflakedb/gosnowflake"     // Snowflake driver

	"github.com/kiotdata/retail-ingest/internal/cleaning"
)

// Warehouse appends cleaned rows to the analytical fact table. Both
// supported drivers (clickhouse, snowflake) speak database/sql with ?
// placeholders, so the writer is driver-agnostic.
type Warehouse struct {
	db    *sql.DB
	table string
}

const warehouseBatchSize = 1000

// factColumns maps canonical table columns to fact_transactions
// columns, in insert order. The first present source wins for targets
// fed by more than one canonical column.
var factColumns = []struct {
	source string
	target string
}{
	{"thoi_gian", "thoi_gian"},
	{"ngay", "ngay"},
	{"thang", "thang"},
	{"nam", "nam"},
	{"tuan", "tuan"},
	{"gio", "gio"},
	{"thu_trong_tuan", "thu_trong_tuan"},
	{"ma_giao_dich", "ma_giao_dich"},
	{"chi_nhanh", "chi_nhanh"},
	{"ma_hang", "ma_hang"},
	{"ma_vach", "ma_vach"},
	{"ten_hang", "ten_hang"},
	{"thuong_hieu", "thuong_hieu"},
	{"cap_1", "cap_1"},
	{"cap_2", "cap_2"},
	{"cap_3", "cap_3"},
	{"sl", "so_luong"},
	{"gia_ban_sp", "gia_ban_sp"},
	{"gia_von_sp", "gia_von_sp"},
	{"loi_nhuan_sp", "loi_nhuan_sp"},
	{"tong_tien_hang", "tong_tien_hang"},
	{"tong_tien_hang_theo_thoi_gian", "tong_tien_hang"},
	{"giam_gia", "giam_gia"},
	{"giam_gia_theo_thoi_gian", "giam_gia"},
	{"doanh_thu", "doanh_thu"},
	{"doanh_thu_theo_thoi_gian", "doanh_thu"},
	{"tong_gia_von", "tong_gia_von"},
	{"tong_gia_von_theo_thoi_gian", "tong_gia_von"},
	{"loi_nhuan_gop", "loi_nhuan_gop"},
	{"loi_nhuan_gop_theo_thoi_gian", "loi_nhuan_gop"},
	{"tong_loi_nhuan_hang_hoa", "tong_loi_nhuan_hang_hoa"},
	{"ty_suat_loi_nhuan", "ty_suat_loi_nhuan"},
}

// NewWarehouse wraps an open database handle.
func NewWarehouse(db *sql.DB) *Warehouse {
	return &Warehouse{db: db, table: "fact_transactions"}
}

// OpenWarehouse connects with the named driver and verifies the
// connection.
func OpenWarehouse(ctx context.Context, driver, dsn string) (*Warehouse, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return &Warehouse{db: db, table: "fact_transactions"}, nil
}

// Close releases the underlying connection pool.
func (w *Warehouse) Close() error {
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// Ping tests the warehouse connection.
func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// InsertTable appends every row of the table to the fact table in
// batches, projecting only the columns present in the source. Returns
// the number of rows written. The fact table is append-only: replay
// protection happens upstream at the file level.
func (w *Warehouse) InsertTable(ctx context.Context, t *cleaning.Table) (int, error) {
	if len(t.Rows) == 0 {
		return 0, ErrEmptyTable
	}

	sources, targets := w.projectColumns(t)
	if len(targets) == 0 {
		return 0, fmt.Errorf("no fact columns present in table")
	}

	placeholders := make([]string, len(targets))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.table, strings.Join(targets, ", "), strings.Join(placeholders, ", "))

	written := 0
	for start := 0; start < len(t.Rows); start += warehouseBatchSize {
		end := start + warehouseBatchSize
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		if err := w.insertBatch(ctx, query, sources, t.Rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}

	log.Printf("[sink] Inserted %d rows into %s", written, w.table)
	return written, nil
}

func (w *Warehouse) insertBatch(ctx context.Context, query string, sources []string, rows []map[string]any) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin warehouse batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare warehouse insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(sources))
	for _, row := range rows {
		for i, src := range sources {
			args[i] = row[src]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert warehouse row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit warehouse batch: %w", err)
	}
	return nil
}

// projectColumns resolves which fact columns this table can feed,
// keeping the first source for a target when several are present.
func (w *Warehouse) projectColumns(t *cleaning.Table) (sources, targets []string) {
	taken := make(map[string]bool)
	for _, fc := range factColumns {
		if taken[fc.target] || !t.HasColumn(fc.source) {
			continue
		}
		taken[fc.target] = true
		sources = append(sources, fc.source)
		targets = append(targets, fc.target)
	}
	return sources, targets
}
