package store

import (
	"encoding/binary"

	"github.com/mezonai/certsync/block"
)

// Declare database key prefix for objects
const (
	PrefixPayload = "payload:"
	PrefixCert    = "cert:"

	KeyGenesis = "genesis"

	// cursor metadata, stored as 8-byte big-endian "next" numbers
	KeyMetaFirst           = "meta/first"
	KeyMetaNextPayload     = "meta/next_payload"
	KeyMetaNextCertificate = "meta/next_cert"
)

func numberKey(prefix string, n block.Number) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(n))
	return key
}

func payloadKey(n block.Number) []byte {
	return numberKey(PrefixPayload, n)
}

func certKey(n block.Number) []byte {
	return numberKey(PrefixCert, n)
}

func encodeNumber(n block.Number) []byte {
	return n.Bytes()
}
