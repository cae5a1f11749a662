//go:build !rocksdb
// +build !rocksdb

package db

import "fmt"

// NewRocksDBProvider reports that the binary was built without RocksDB support
func NewRocksDBProvider(directory string) (DatabaseProvider, error) {
	return nil, fmt.Errorf("RocksDB support not compiled in, rebuild with -tags rocksdb to open %s", directory)
}
