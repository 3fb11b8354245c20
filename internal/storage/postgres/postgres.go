package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stock_notifier/internal/config"
	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	pool *pgxpool.Pool

	inventoryTable string
	snapshotTable  string
	mappingTable   string
	stateTable     string
}

const snapshotCommittedKey = "snapshot_committed_at"

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = cfg.Postgres.MaxConns
	poolConfig.MinConns = cfg.Postgres.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	return &PostgresRepo{
		pool:           pool,
		inventoryTable: strings.TrimSpace(cfg.Monitor.InventoryTable),
		snapshotTable:  cfg.Monitor.SnapshotTable,
		mappingTable:   cfg.Monitor.MappingTable,
		stateTable:     cfg.Monitor.StateTable,
	}, nil
}

// * EnsureSchema создаёт недостающие таблицы листов ожидания, кэша и связок LINE.
// * Таблицу склада ведут вручную, здесь она не создаётся.
func (r *PostgresRepo) EnsureSchema(ctx context.Context, waitlistTables ...string) error {
	const op = "storage.postgres.EnsureSchema"

	stmts := make([]string, 0, len(waitlistTables)+3)
	for _, table := range waitlistTables {
		ident, err := identifier(table)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		stmts = append(stmts, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id           BIGSERIAL PRIMARY KEY,
				sku          TEXT NOT NULL DEFAULT '',
				product_name TEXT NOT NULL DEFAULT '',
				channel      TEXT NOT NULL DEFAULT 'email',
				address      TEXT NOT NULL DEFAULT '',
				user_id      TEXT NOT NULL DEFAULT '',
				status       TEXT NOT NULL DEFAULT 'pending',
				created_at   TIMESTAMPTZ,
				notified_at  TIMESTAMPTZ
			)`, ident))
	}

	snapshot, err := identifier(r.snapshotTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			sku          TEXT PRIMARY KEY,
			last_stock   INTEGER NOT NULL,
			last_seen_at TIMESTAMPTZ,
			note         TEXT NOT NULL DEFAULT ''
		)`, snapshot))

	mapping, err := identifier(r.mappingTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL PRIMARY KEY,
			user_id      TEXT NOT NULL,
			line_user_id TEXT NOT NULL,
			linked_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, mapping))

	state, err := identifier(r.stateTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, state))

	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	// Tables created earlier by hand may predate some columns.
	for _, table := range waitlistTables {
		columns, err := r.columns(ctx, table)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if missing := missingHeaders(columns, storage.WaitlistHeaders); len(missing) > 0 {
			return fmt.Errorf("%s: %w: %s @ %s", op, storage.ErrMissingHeaders, strings.Join(missing, ", "), table)
		}
	}

	return nil
}

// * Inventory возвращает текущие строки склада.
// * Ячейки читаются как текст и разбираются мягко: таблицу заполняют вручную.
func (r *PostgresRepo) Inventory(ctx context.Context) ([]models.Product, error) {
	const op = "storage.postgres.Inventory"

	table, err := r.resolveInventoryTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ident, err := identifier(table)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		SELECT coalesce(sku::text, ''),
		       coalesce(product_name::text, ''),
		       coalesce(price::text, ''),
		       coalesce(currency::text, ''),
		       coalesce(stock::text, ''),
		       coalesce(updated_at::text, '')
		  FROM %s
	`, ident)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Product, error) {
		var sku, name, price, currency, stock, updatedAt string
		if err := row.Scan(&sku, &name, &price, &currency, &stock, &updatedAt); err != nil {
			return models.Product{}, err
		}
		return models.Product{
			SKU:       strings.TrimSpace(sku),
			Name:      strings.TrimSpace(name),
			Price:     storage.ParsePrice(price),
			Currency:  strings.TrimSpace(currency),
			Stock:     storage.ToInt(stock),
			UpdatedAt: storage.ParseTime(updatedAt),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	return products, nil
}

// resolveInventoryTable validates the configured table, or picks the first
// table in the current schema that carries every inventory header.
func (r *PostgresRepo) resolveInventoryTable(ctx context.Context) (string, error) {
	if r.inventoryTable != "" {
		columns, err := r.columns(ctx, r.inventoryTable)
		if err != nil {
			return "", err
		}
		if len(columns) == 0 {
			return "", fmt.Errorf("%w: %s", storage.ErrInventoryNotFound, r.inventoryTable)
		}
		if missing := missingHeaders(columns, storage.InventoryHeaders); len(missing) > 0 {
			return "", fmt.Errorf("%w: %s @ %s", storage.ErrMissingHeaders, strings.Join(missing, ", "), r.inventoryTable)
		}
		return r.inventoryTable, nil
	}

	const query = `
		SELECT table_name
		  FROM information_schema.columns
		 WHERE table_schema = current_schema()
		   AND lower(column_name) = ANY($1)
		 GROUP BY table_name
		HAVING count(DISTINCT lower(column_name)) = $2
		 ORDER BY table_name
		 LIMIT 1
	`

	var table string
	err := r.pool.QueryRow(ctx, query, storage.InventoryHeaders, len(storage.InventoryHeaders)).Scan(&table)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w (required headers: %s)", storage.ErrInventoryNotFound, strings.Join(storage.InventoryHeaders, ", "))
		}
		return "", err
	}

	return table, nil
}

func (r *PostgresRepo) columns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitTable(table)

	query := `
		SELECT lower(column_name)
		  FROM information_schema.columns
		 WHERE table_name = $1
		   AND table_schema = coalesce(nullif($2, ''), current_schema())
	`

	rows, err := r.pool.Query(ctx, query, name, schema)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// * Waiters возвращает все строки листа ожидания в порядке добавления.
func (r *PostgresRepo) Waiters(ctx context.Context, table string) ([]models.Waiter, error) {
	const op = "storage.postgres.Waiters"

	ident, err := identifier(table)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		SELECT id, sku, product_name, channel, address, user_id, status, created_at, notified_at
		  FROM %s
		 ORDER BY id
	`, ident)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	waiters, err := pgx.CollectRows(rows, scanWaiter)
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	return waiters, nil
}

func scanWaiter(row pgx.CollectableRow) (models.Waiter, error) {
	var (
		w                     models.Waiter
		createdAt, notifiedAt *time.Time
	)

	err := row.Scan(
		&w.ID,
		&w.SKU,
		&w.ProductName,
		&w.Channel,
		&w.Address,
		&w.UserID,
		&w.Status,
		&createdAt,
		&notifiedAt,
	)
	if err != nil {
		return models.Waiter{}, err
	}

	if createdAt != nil {
		w.CreatedAt = *createdAt
	}
	if notifiedAt != nil {
		w.NotifiedAt = *notifiedAt
	}

	return w, nil
}

// * AppendWaiter добавляет новую строку в лист ожидания.
func (r *PostgresRepo) AppendWaiter(ctx context.Context, table string, w models.Waiter) (models.Waiter, error) {
	const op = "storage.postgres.AppendWaiter"

	ident, err := identifier(table)
	if err != nil {
		return models.Waiter{}, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (sku, product_name, channel, address, user_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, ident)

	err = r.pool.QueryRow(ctx, query,
		w.SKU,
		w.ProductName,
		w.Channel,
		w.Address,
		w.UserID,
		w.Status,
		w.CreatedAt,
	).Scan(&w.ID)
	if err != nil {
		return models.Waiter{}, fmt.Errorf("%s: %w", op, err)
	}

	return w, nil
}

// * UpdateStatuses применяет все изменения статусов одной транзакцией.
func (r *PostgresRepo) UpdateStatuses(ctx context.Context, table string, updates []models.StatusUpdate) error {
	const op = "storage.postgres.UpdateStatuses"

	if len(updates) == 0 {
		return nil
	}

	ident, err := identifier(table)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $1, notified_at = $2 WHERE id = $3`, ident)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer rollback(ctx, tx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(query, string(u.Status), u.NotifiedAt, u.WaiterID)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: batch: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// * Snapshot читает кэш остатков предыдущего запуска.
func (r *PostgresRepo) Snapshot(ctx context.Context) (models.Snapshot, error) {
	const op = "storage.postgres.Snapshot"

	ident, err := identifier(r.snapshotTable)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`SELECT sku, last_stock, last_seen_at, note FROM %s`, ident)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SnapshotEntry, error) {
		var (
			e        models.SnapshotEntry
			lastSeen *time.Time
		)
		if err := row.Scan(&e.SKU, &e.LastStock, &lastSeen, &e.Note); err != nil {
			return e, err
		}
		if lastSeen != nil {
			e.LastSeenAt = *lastSeen
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	snapshot := make(models.Snapshot, len(entries))
	for _, e := range entries {
		key := models.NormalizeKey(e.SKU)
		if key == "" {
			continue
		}
		snapshot[key] = e
	}

	return snapshot, nil
}

// * ReplaceSnapshot полностью перезаписывает кэш и отмечает факт записи.
// * Ключи, которых нет в entries, удаляются.
func (r *PostgresRepo) ReplaceSnapshot(ctx context.Context, entries []models.SnapshotEntry) error {
	const op = "storage.postgres.ReplaceSnapshot"

	ident, err := identifier(r.snapshotTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sorted := make([]models.SnapshotEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, ident)); err != nil {
		return fmt.Errorf("%s: clear: %w", op, err)
	}

	_, err = tx.CopyFrom(
		ctx,
		tableIdentifier(r.snapshotTable),
		storage.SnapshotHeaders,
		pgx.CopyFromSlice(len(sorted), func(i int) ([]any, error) {
			e := sorted[i]
			return []any{e.SKU, e.LastStock, e.LastSeenAt, e.Note}, nil
		}),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == storage.UniqueViolation {
			return fmt.Errorf("%s: %w: %s", op, storage.ErrDuplicateSKU, pgErr.Detail)
		}
		return fmt.Errorf("%s: copy: %w", op, err)
	}

	state, err := identifier(r.stateTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	mark := fmt.Sprintf(`
		INSERT INTO %s (key, updated_at) VALUES ($1, now())
		ON CONFLICT (key) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, state)
	if _, err := tx.Exec(ctx, mark, snapshotCommittedKey); err != nil {
		return fmt.Errorf("%s: mark: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// * SnapshotCommitted сообщает, записывал ли кэш хотя бы один запуск.
func (r *PostgresRepo) SnapshotCommitted(ctx context.Context) (bool, error) {
	const op = "storage.postgres.SnapshotCommitted"

	ident, err := identifier(r.stateTable)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1)`, ident)

	var committed bool
	if err := r.pool.QueryRow(ctx, query, snapshotCommittedKey).Scan(&committed); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return committed, nil
}

// * SaveUserMapping сохраняет связку user_id -> LINE user ID.
func (r *PostgresRepo) SaveUserMapping(ctx context.Context, m models.UserMapping) error {
	const op = "storage.postgres.SaveUserMapping"

	ident, err := identifier(r.mappingTable)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (user_id, line_user_id, linked_at) VALUES ($1, $2, $3)`, ident)

	if _, err := r.pool.Exec(ctx, query, m.UserID, m.LineUserID, m.LinkedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * LineUserID возвращает последнюю связку для userID.
func (r *PostgresRepo) LineUserID(ctx context.Context, userID string) (string, error) {
	const op = "storage.postgres.LineUserID"

	ident, err := identifier(r.mappingTable)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`
		SELECT line_user_id
		  FROM %s
		 WHERE user_id = $1
		 ORDER BY linked_at DESC, id DESC
		 LIMIT 1
	`, ident)

	var lineUserID string
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&lineUserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrIdentityNotLinked
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if strings.TrimSpace(lineUserID) == "" {
		return "", storage.ErrIdentityNotLinked
	}

	return lineUserID, nil
}

// * Close закрывает соединение с базой данных.
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		fmt.Printf("failed to rollback transaction: %v\n", err)
	}
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
