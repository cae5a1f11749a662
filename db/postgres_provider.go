package db

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS certsync_kv (
	key   BYTEA PRIMARY KEY,
	value BYTEA NOT NULL
);`

const (
	pgSelect = `SELECT value FROM certsync_kv WHERE key = $1`
	pgUpsert = `INSERT INTO certsync_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	pgDelete = `DELETE FROM certsync_kv WHERE key = $1`
	pgScan   = `SELECT key, value FROM certsync_kv WHERE key >= $1 ORDER BY key`
)

// PostgresProvider implements IterableProvider on a single key/value table
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider connects with a lib/pq connection string and ensures the table exists
func NewPostgresProvider(databaseURL string) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create certsync_kv table: %w", err)
	}
	return &PostgresProvider{db: db}, nil
}

func (p *PostgresProvider) Get(key []byte) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(pgSelect, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func (p *PostgresProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := p.Get(k)
		if err != nil {
			return nil, err
		}
		if v != nil {
			result[string(k)] = v
		}
	}
	return result, nil
}

func (p *PostgresProvider) Put(key, value []byte) error {
	_, err := p.db.Exec(pgUpsert, key, value)
	return err
}

func (p *PostgresProvider) Delete(key []byte) error {
	_, err := p.db.Exec(pgDelete, key)
	return err
}

func (p *PostgresProvider) Has(key []byte) (bool, error) {
	v, err := p.Get(key)
	return v != nil, err
}

func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

func (p *PostgresProvider) Batch() DatabaseBatch {
	return &postgresBatch{db: p.db}
}

func (p *PostgresProvider) IteratePrefix(prefix, start []byte, fn func(key, value []byte) bool) error {
	rows, err := p.db.Query(pgScan, seekKey(prefix, start))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if !bytes.HasPrefix(k, prefix) || !fn(k, v) {
			break
		}
	}
	return rows.Err()
}

// postgresBatch replays buffered writes inside one SQL transaction
type postgresBatch struct {
	opBuffer
	db *sql.DB
}

func (b *postgresBatch) Write() error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.delete {
			_, err = tx.Exec(pgDelete, op.key)
		} else {
			_, err = tx.Exec(pgUpsert, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
