package jsonrpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/jsonx"
)

var _ fetcher.RangePeer = (*PeerClient)(nil)

// PeerClient serves a fetcher from a remote node's JSON-RPC endpoint
type PeerClient struct {
	url    string
	client Client
}

func NewPeerClient(url string) *PeerClient {
	return &PeerClient{url: url, client: NewHTTPClient(url).ForComponent("FETCH")}
}

func (p *PeerClient) ID() string {
	return p.url
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := jsonx.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode: %v", errors.ErrUnavailable, err)
	}
	return nil
}

func (p *PeerClient) FetchPayload(ctx context.Context, n block.Number) (*block.Payload, error) {
	raw, err := p.client.Request(ctx, MethodSyncPayload, numberParams{Number: n})
	if err != nil {
		return nil, err
	}
	var payload block.Payload
	if err := decode(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchPayloads issues one batch of sync.payload calls and returns the
// leading run the peer could serve
func (p *PeerClient) FetchPayloads(ctx context.Context, from, to block.Number) ([]*block.Payload, error) {
	if to < from {
		return nil, nil
	}
	if to-from+1 > MaxBatchSize {
		to = from + MaxBatchSize - 1
	}
	reqs := make([]Request, 0, to-from+1)
	for n := from; n <= to; n++ {
		reqs = append(reqs, Request{Method: MethodSyncPayload, Params: numberParams{Number: n}})
	}
	results, err := p.client.BatchRequest(ctx, reqs)
	if err != nil {
		return nil, err
	}
	out := make([]*block.Payload, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			if len(out) > 0 && stderrors.Is(r.Err, errors.ErrNotYetAvailable) {
				break
			}
			return out, r.Err
		}
		var payload block.Payload
		if err := decode(r.Result, &payload); err != nil {
			return out, err
		}
		out = append(out, &payload)
	}
	return out, nil
}

func (p *PeerClient) FetchCertificate(ctx context.Context, n block.Number) (*consensus.Cert, error) {
	raw, err := p.client.Request(ctx, MethodSyncCertificate, numberParams{Number: n})
	if err != nil {
		return nil, err
	}
	var cert consensus.Cert
	if err := decode(raw, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (p *PeerClient) FetchGenesis(ctx context.Context) (*genesis.Genesis, error) {
	raw, err := p.client.Request(ctx, MethodSyncGenesis, nil)
	if err != nil {
		return nil, err
	}
	var g genesis.Genesis
	if err := decode(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// FetchStatus reports the remote node's cursors
func (p *PeerClient) FetchStatus(ctx context.Context) (*blockstore.Status, error) {
	raw, err := p.client.Request(ctx, MethodSyncStatus, nil)
	if err != nil {
		return nil, err
	}
	var st blockstore.Status
	if err := decode(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (p *PeerClient) Close() error {
	return p.client.Close()
}
