package events

import (
	"time"

	"github.com/mezonai/certsync/block"
)

// EventType is an enum-like string type for sync events
type EventType string

const (
	EventPayloadPersisted     EventType = "PayloadPersisted"
	EventCertificatePersisted EventType = "CertificatePersisted"
	EventGenesisUpdated       EventType = "GenesisUpdated"
	EventPeerHeight           EventType = "PeerHeight"
)

// SyncEvent is published whenever one of the node's cursors moves
type SyncEvent interface {
	Type() EventType
	Timestamp() time.Time
	Number() block.Number
}

type baseEvent struct {
	number    block.Number
	timestamp time.Time
}

func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func (e baseEvent) Number() block.Number { return e.number }

// PayloadPersisted fires after a payload batch commits
type PayloadPersisted struct {
	baseEvent
	PayloadHash block.Hash
}

func NewPayloadPersisted(n block.Number, hash block.Hash) *PayloadPersisted {
	return &PayloadPersisted{baseEvent: baseEvent{number: n, timestamp: time.Now()}, PayloadHash: hash}
}

func (e *PayloadPersisted) Type() EventType { return EventPayloadPersisted }

// CertificatePersisted fires after the contiguous certificate cursor advances
type CertificatePersisted struct {
	baseEvent
}

func NewCertificatePersisted(n block.Number) *CertificatePersisted {
	return &CertificatePersisted{baseEvent: baseEvent{number: n, timestamp: time.Now()}}
}

func (e *CertificatePersisted) Type() EventType { return EventCertificatePersisted }

// GenesisUpdated fires when a genesis is adopted or extended. Number is its first block.
type GenesisUpdated struct {
	baseEvent
	ChainID uint64
	Fork    uint64
}

func NewGenesisUpdated(firstBlock block.Number, chainID, fork uint64) *GenesisUpdated {
	return &GenesisUpdated{
		baseEvent: baseEvent{number: firstBlock, timestamp: time.Now()},
		ChainID:   chainID,
		Fork:      fork,
	}
}

func (e *GenesisUpdated) Type() EventType { return EventGenesisUpdated }

// PeerHeight carries the highest certified block announced by a peer
type PeerHeight struct {
	baseEvent
	PeerID string
}

func NewPeerHeight(peerID string, n block.Number) *PeerHeight {
	return &PeerHeight{baseEvent: baseEvent{number: n, timestamp: time.Now()}, PeerID: peerID}
}

func (e *PeerHeight) Type() EventType { return EventPeerHeight }
