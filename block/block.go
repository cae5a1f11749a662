package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Number is a block height. Numbers inside a node's responsibility window have no gaps.
type Number uint64

func (n Number) Next() Number {
	return n + 1
}

// Bytes returns the big-endian encoding used in storage keys and hashes
func (n Number) Bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return buf[:]
}

func (n Number) String() string {
	return fmt.Sprintf("#%d", uint64(n))
}

// Hash is a SHA-256 payload digest
type Hash [32]byte

func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()[:16]
}

// MarshalText keeps hashes readable in JSON records and RPC responses
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// Payload is the opaque content of one block as produced by the execution layer
type Payload struct {
	Number Number `json:"number"`
	Data   []byte `json:"data"`
}

func NewPayload(n Number, data []byte) *Payload {
	return &Payload{Number: n, Data: append([]byte(nil), data...)}
}

// Hash commits to both the number and the data so equal bodies at different heights differ
func (p *Payload) Hash() Hash {
	h := sha256.New()
	h.Write(p.Number.Bytes())
	h.Write(p.Data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Equal reports content equality, used for idempotent re-inserts
func (p *Payload) Equal(other *Payload) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Number == other.Number && bytes.Equal(p.Data, other.Data)
}
