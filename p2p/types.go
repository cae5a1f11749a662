package p2p

import (
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/genesis"
)

type Config struct {
	ListenAddrs    []string
	Identity       crypto.PrivKey
	BootstrapPeers []string

	// EnableDHT turns on kad-dht routing and namespace discovery
	EnableDHT    bool
	DHTDataStore string

	MaxPeers          int
	RequestsPerMinute int
}

// SyncRequest is the single message a client writes on a sync stream
type SyncRequest struct {
	Kind   string       `json:"kind"`
	Number block.Number `json:"number"`
}

// SyncResponse carries exactly one of its fields
type SyncResponse struct {
	Payload     *block.Payload       `json:"payload,omitempty"`
	Certificate *consensus.Cert      `json:"certificate,omitempty"`
	Genesis     *genesis.Genesis     `json:"genesis,omitempty"`
	Error       *errors.NetworkError `json:"error,omitempty"`
}

// CertAnnouncement is gossiped whenever the local certificate cursor advances
type CertAnnouncement struct {
	Number block.Number `json:"number"`
}
