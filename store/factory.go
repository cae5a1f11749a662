package store

import (
	"fmt"

	"github.com/mezonai/certsync/db"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	LevelDBStoreType  StoreType = "leveldb"
	MemoryStoreType   StoreType = "memory"
	RocksDBStoreType  StoreType = "rocksdb"
	RedisStoreType    StoreType = "redis"
	BoltStoreType     StoreType = "bolt"
	PostgresStoreType StoreType = "postgres"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	Type StoreType `ini:"type" json:"type"`

	// Directory is the database path for file-based backends
	Directory string `ini:"directory" json:"directory"`

	// Address and RedisDB select the Redis server and database index
	Address string `ini:"address" json:"address"`
	RedisDB int    `ini:"redis_db" json:"redis_db"`

	// DSN is the lib/pq connection string for PostgreSQL
	DSN string `ini:"dsn" json:"dsn"`
}

func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case LevelDBStoreType, RocksDBStoreType, BoltStoreType:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty for %s store", sc.Type)
		}
	case RedisStoreType:
		if sc.Address == "" {
			return fmt.Errorf("address cannot be empty for redis store")
		}
	case PostgresStoreType:
		if sc.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for postgres store")
		}
	case MemoryStoreType:
	case "":
		return fmt.Errorf("store type cannot be empty")
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
	return nil
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

func (sf *StoreFactory) CreateSyncStore(config *StoreConfig) (SyncStore, error) {
	provider, err := sf.CreateProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return NewGenericSyncStore(provider)
}

// CreateProvider opens the database backend named by config
func (sf *StoreFactory) CreateProvider(config *StoreConfig) (db.DatabaseProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		provider db.DatabaseProvider
		err      error
	)
	switch config.Type {
	case LevelDBStoreType:
		provider, err = db.NewLevelDBProvider(config.Directory)
	case MemoryStoreType:
		provider = db.NewMemLevelDBProvider()
	case RocksDBStoreType:
		provider, err = db.NewRocksDBProvider(config.Directory)
	case RedisStoreType:
		provider, err = db.NewRedisProvider(config.Address, config.RedisDB)
	case BoltStoreType:
		provider, err = db.NewBoltProvider(config.Directory)
	case PostgresStoreType:
		provider, err = db.NewPostgresProvider(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return provider, nil
}

var globalFactory = NewStoreFactory()

// CreateStore opens a SyncStore using the global factory
func CreateStore(config *StoreConfig) (SyncStore, error) {
	return globalFactory.CreateSyncStore(config)
}
