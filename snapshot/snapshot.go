// Package snapshot cuts a node's chain state at a block so a new node can start
// right after it instead of replaying from block zero.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/jsonx"
	"github.com/mezonai/certsync/logx"
)

const (
	DefaultDirectory = "./snapshots"
	FileName         = "snapshot-latest.json"
)

// File is the on-disk snapshot. Block is the last block covered by the
// snapshot; Payloads and Certificates are trailing blocks after it, in order.
type File struct {
	Block        block.Number      `json:"block"`
	Genesis      *genesis.Genesis  `json:"genesis,omitempty"`
	Payloads     []*block.Payload  `json:"payloads,omitempty"`
	Certificates []*consensus.Cert `json:"certificates,omitempty"`
}

// Validate checks the trailing blocks are contiguous from Block+1
func (f *File) Validate() error {
	next := f.Block + 1
	for _, p := range f.Payloads {
		if p == nil || p.Number != next {
			return fmt.Errorf("snapshot payloads not contiguous at block %d", next)
		}
		next++
	}
	for i, c := range f.Certificates {
		if c == nil {
			return fmt.Errorf("snapshot certificate %d is empty", i)
		}
		if c.Number <= f.Block || c.Number >= next {
			return fmt.Errorf("snapshot certificate %d has no trailing payload", c.Number)
		}
		if i > 0 && c.Number != f.Certificates[i-1].Number+1 {
			return fmt.Errorf("snapshot certificates not contiguous at block %d", c.Number)
		}
	}
	if f.Genesis != nil {
		if err := f.Genesis.Validate(); err != nil {
			return fmt.Errorf("snapshot genesis: %w", err)
		}
	}
	return nil
}

// Take captures bs at block at, carrying up to trailing blocks after it
func Take(bs *blockstore.BlockStore, at block.Number, trailing int) (*File, error) {
	last, ok := bs.LastPayload()
	if !ok || at > last {
		return nil, fmt.Errorf("block %d is not held by this node", at)
	}
	if at+1 < bs.First() {
		return nil, fmt.Errorf("block %d precedes the first held block %d", at, bs.First())
	}

	f := &File{Block: at, Genesis: bs.Genesis()}
	if trailing <= 0 || at == last {
		return f, nil
	}

	to := at + block.Number(trailing)
	if to > last {
		to = last
	}
	payloads, err := bs.Payloads(at+1, to)
	if err != nil {
		return nil, err
	}
	f.Payloads = payloads

	for n := at + 1; n <= to; n++ {
		c, err := bs.Certificate(n)
		if err != nil {
			return nil, err
		}
		if c == nil {
			if len(f.Certificates) > 0 {
				break
			}
			continue
		}
		f.Certificates = append(f.Certificates, c)
	}
	return f, nil
}

// Write stores f as the only snapshot in dir and returns its path
func Write(dir string, f *File) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := jsonx.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("install snapshot file: %w", err)
	}

	if err := cleanupOldSnapshots(dir, path); err != nil {
		logx.Error("SNAPSHOT", "Failed to cleanup old snapshots: ", err)
	}
	logx.Info("SNAPSHOT", fmt.Sprintf("Wrote snapshot at block %d with %d trailing blocks to %s", f.Block, len(f.Payloads), path))
	return path, nil
}

func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := jsonx.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func cleanupOldSnapshots(dir, latestPath string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, file.Name())
		if path == latestPath {
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
