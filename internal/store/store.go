// Package store persists accounts, activity logs, market snapshots, the
// per-symbol/date price cache, and the analyzed-item dedup table in DuckDB.
//
// Every operation is individually atomic: each write is a full-row replace
// keyed by the row's natural key, and no operation spans more than one row.
// The *sql.DB handle is safe for concurrent use across entity goroutines.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/types"
)

type Store struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewStore opens (or creates) the DuckDB database at path. An empty path
// opens an ephemeral in-memory store.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the tables if they do not exist.
func (s *Store) Initialize() error {
	_, err := s.db.Exec(`CREATE SEQUENCE IF NOT EXISTS activity_log_id_seq`)
	if err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			name TEXT PRIMARY KEY,
			state TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_log (
			id BIGINT DEFAULT nextval('activity_log_id_seq'),
			entity TEXT,
			created_at TIMESTAMP,
			kind TEXT,
			message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create activity_log table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS market_snapshots (
			date TEXT PRIMARY KEY,
			prices TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create market_snapshots table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_cache (
			symbol TEXT,
			date TEXT,
			price DOUBLE,
			PRIMARY KEY (symbol, date)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create price_cache table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS analyzed_items (
			item_id TEXT,
			entity TEXT,
			title TEXT,
			source_name TEXT,
			published_at TEXT,
			analyzed_at TEXT,
			relevant BOOLEAN,
			deep_analyzed BOOLEAN,
			PRIMARY KEY (item_id, entity)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create analyzed_items table: %w", err)
	}

	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetAccount returns the stored account for an entity, or None when the entity
// has never been persisted.
func (s *Store) GetAccount(name string) (optional.Option[types.Account], error) {
	query := s.sq.
		Select("state").
		From("accounts").
		Where(squirrel.Eq{"name": types.Key(name)}).
		RunWith(s.db)

	var blob string

	err := query.QueryRow().Scan(&blob)
	if err == sql.ErrNoRows {
		return optional.None[types.Account](), nil
	}

	if err != nil {
		return optional.None[types.Account](), fmt.Errorf("failed to query account: %w", err)
	}

	var account types.Account
	if err := json.Unmarshal([]byte(blob), &account); err != nil {
		return optional.None[types.Account](), fmt.Errorf("failed to decode account %q: %w", name, err)
	}

	return optional.Some(account), nil
}

// PutAccount replaces the stored state for the account's entity.
func (s *Store) PutAccount(account types.Account) error {
	blob, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account %q: %w", account.Name, err)
	}

	insertQuery := s.sq.
		Insert("accounts").
		Columns("name", "state").
		Values(types.Key(account.Name), string(blob)).
		Suffix("ON CONFLICT (name) DO UPDATE SET state = excluded.state").
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	return nil
}

// AppendLog appends one line to the entity's activity log.
func (s *Store) AppendLog(entity string, kind string, message string) error {
	insertQuery := s.sq.
		Insert("activity_log").
		Columns("entity", "created_at", "kind", "message").
		Values(types.Key(entity), time.Now().UTC(), kind, message).
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}

	return nil
}

// GetLogs returns the last n activity log entries for an entity, oldest first.
func (s *Store) GetLogs(entity string, n uint64) ([]types.ActivityLogEntry, error) {
	selectQuery := s.sq.
		Select("entity", "created_at", "kind", "message").
		From("activity_log").
		Where(squirrel.Eq{"entity": types.Key(entity)}).
		OrderBy("id DESC").
		Limit(n).
		RunWith(s.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var entries []types.ActivityLogEntry

	for rows.Next() {
		var entry types.ActivityLogEntry

		err := rows.Scan(&entry.Entity, &entry.Timestamp, &entry.Kind, &entry.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log: %w", err)
	}

	// reverse into chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// GetPrice returns the cached close price for (symbol, date), or None on a miss.
func (s *Store) GetPrice(symbol string, date time.Time) (optional.Option[decimal.Decimal], error) {
	query := s.sq.
		Select("price").
		From("price_cache").
		Where(squirrel.Eq{"symbol": symbol, "date": date.Format(types.DateLayout)}).
		RunWith(s.db)

	var price float64

	err := query.QueryRow().Scan(&price)
	if err == sql.ErrNoRows {
		return optional.None[decimal.Decimal](), nil
	}

	if err != nil {
		return optional.None[decimal.Decimal](), fmt.Errorf("failed to query price cache: %w", err)
	}

	return optional.Some(decimal.NewFromFloat(price)), nil
}

// PutPrice upserts the cached price for (symbol, date). Last write wins; the
// value is deterministic for a given key so concurrent first-writes are
// harmless.
func (s *Store) PutPrice(symbol string, date time.Time, price decimal.Decimal) error {
	insertQuery := s.sq.
		Insert("price_cache").
		Columns("symbol", "date", "price").
		Values(symbol, date.Format(types.DateLayout), price.InexactFloat64()).
		Suffix("ON CONFLICT (symbol, date) DO UPDATE SET price = excluded.price").
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}

	return nil
}

// GetMarketSnapshot returns the stored end-of-day snapshot for a date.
func (s *Store) GetMarketSnapshot(date time.Time) (optional.Option[types.MarketSnapshot], error) {
	query := s.sq.
		Select("prices").
		From("market_snapshots").
		Where(squirrel.Eq{"date": date.Format(types.DateLayout)}).
		RunWith(s.db)

	var blob string

	err := query.QueryRow().Scan(&blob)
	if err == sql.ErrNoRows {
		return optional.None[types.MarketSnapshot](), nil
	}

	if err != nil {
		return optional.None[types.MarketSnapshot](), fmt.Errorf("failed to query market snapshot: %w", err)
	}

	snapshot := types.MarketSnapshot{
		Date:   date.Format(types.DateLayout),
		Prices: make(map[string]decimal.Decimal),
	}

	if err := json.Unmarshal([]byte(blob), &snapshot.Prices); err != nil {
		return optional.None[types.MarketSnapshot](), fmt.Errorf("failed to decode market snapshot: %w", err)
	}

	return optional.Some(snapshot), nil
}

// PutMarketSnapshot upserts the end-of-day snapshot for a date.
func (s *Store) PutMarketSnapshot(date time.Time, prices map[string]decimal.Decimal) error {
	blob, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("failed to encode market snapshot: %w", err)
	}

	insertQuery := s.sq.
		Insert("market_snapshots").
		Columns("date", "prices").
		Values(date.Format(types.DateLayout), string(blob)).
		Suffix("ON CONFLICT (date) DO UPDATE SET prices = excluded.prices").
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to upsert market snapshot: %w", err)
	}

	return nil
}

// IsAnalyzed reports whether the (item, entity) pair has already been recorded.
func (s *Store) IsAnalyzed(itemID string, entity string) (bool, error) {
	query := s.sq.
		Select("1").
		From("analyzed_items").
		Where(squirrel.Eq{"item_id": itemID, "entity": types.Key(entity)}).
		RunWith(s.db)

	var one int

	err := query.QueryRow().Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to query analyzed items: %w", err)
	}

	return true, nil
}

// UpsertAnalyzed records an analyzed item. Re-inserting the same
// (item, entity) pair replaces the previous record, so the operation is
// idempotent.
func (s *Store) UpsertAnalyzed(item types.AnalyzedItem) error {
	insertQuery := s.sq.
		Insert("analyzed_items").
		Columns("item_id", "entity", "title", "source_name", "published_at", "analyzed_at", "relevant", "deep_analyzed").
		Values(item.ItemID, types.Key(item.Entity), item.Title, item.SourceName, item.PublishedAt, item.AnalyzedAt, item.Relevant, item.DeepAnalyzed).
		Suffix(`ON CONFLICT (item_id, entity) DO UPDATE SET
			title = excluded.title,
			source_name = excluded.source_name,
			published_at = excluded.published_at,
			analyzed_at = excluded.analyzed_at,
			relevant = excluded.relevant,
			deep_analyzed = excluded.deep_analyzed`).
		RunWith(s.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to upsert analyzed item: %w", err)
	}

	return nil
}

// ListAnalyzed returns all analyzed items recorded for an entity.
func (s *Store) ListAnalyzed(entity string) ([]types.AnalyzedItem, error) {
	selectQuery := s.sq.
		Select("item_id", "entity", "title", "source_name", "published_at", "analyzed_at", "relevant", "deep_analyzed").
		From("analyzed_items").
		Where(squirrel.Eq{"entity": types.Key(entity)}).
		OrderBy("analyzed_at ASC, item_id ASC").
		RunWith(s.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query analyzed items: %w", err)
	}
	defer rows.Close()

	var items []types.AnalyzedItem

	for rows.Next() {
		var item types.AnalyzedItem

		err := rows.Scan(
			&item.ItemID,
			&item.Entity,
			&item.Title,
			&item.SourceName,
			&item.PublishedAt,
			&item.AnalyzedAt,
			&item.Relevant,
			&item.DeepAnalyzed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analyzed item: %w", err)
		}

		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyzed items: %w", err)
	}

	return items, nil
}

// DeleteAnalyzed removes analyzed-item records. With Some(entity) only that
// entity's records are removed; with None the whole table is cleared.
func (s *Store) DeleteAnalyzed(entity optional.Option[string]) error {
	deleteQuery := s.sq.
		Delete("analyzed_items").
		RunWith(s.db)

	if entity.IsSome() {
		deleteQuery = deleteQuery.Where(squirrel.Eq{"entity": types.Key(entity.Unwrap())})
	}

	if _, err := deleteQuery.Exec(); err != nil {
		return fmt.Errorf("failed to delete analyzed items: %w", err)
	}

	return nil
}
