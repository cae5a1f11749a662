package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	SyncProtocol protocol.ID = "/certsync/sync/1.0.0"

	TopicCerts    = "certsync/certs"
	TopicVotes    = "certsync/votes"
	AdvertiseName = "certsync"

	DefaultMaxPeers          = 50
	DefaultRequestsPerMinute = 600

	streamTimeout     = 15 * time.Second
	maxRequestSize    = 4 * 1024
	maxResponseSize   = 16 * 1024 * 1024
	maxGossipSize     = 1024 * 1024
	discoveryInterval = 30 * time.Second
)

// sync request kinds
const (
	KindPayload     = "payload"
	KindCertificate = "certificate"
	KindGenesis     = "genesis"
)
