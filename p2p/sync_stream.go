package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/jsonx"
	"github.com/mezonai/certsync/logx"
)

func (n *Network) handleSyncStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(streamTimeout))
	remote := s.Conn().RemotePeer()

	var req SyncRequest
	if err := jsonx.NewDecoder(io.LimitReader(s, maxRequestSize)).Decode(&req); err != nil {
		logx.Warn("NETWORK:SYNC", "Bad request from ", remote.String(), ": ", err)
		_ = s.Reset()
		return
	}

	var resp *SyncResponse
	if n.limiter.Allow(remote) {
		resp = n.serve(req)
	} else {
		resp = errorResponse(errors.ErrCodeRateLimited, errors.ErrMsgRateLimited)
	}
	if err := jsonx.NewEncoder(s).Encode(resp); err != nil {
		logx.Warn("NETWORK:SYNC", "Failed to write response to ", remote.String(), ": ", err)
		_ = s.Reset()
	}
}

func errorResponse(code errors.NetworkErrorCode, format string, args ...interface{}) *SyncResponse {
	return &SyncResponse{Error: &errors.NetworkError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func (n *Network) serve(req SyncRequest) *SyncResponse {
	switch req.Kind {
	case KindPayload:
		p, err := n.bs.Payload(req.Number)
		if err != nil {
			logx.Error("NETWORK:SYNC", "payload read failed: ", err)
			return errorResponse(errors.ErrCodeInternal, errors.ErrMsgInternal)
		}
		if p == nil {
			return errorResponse(errors.ErrCodeNotYetAvailable, errors.ErrMsgPayloadNotFound, req.Number)
		}
		return &SyncResponse{Payload: p}
	case KindCertificate:
		c, err := n.bs.Certificate(req.Number)
		if err != nil {
			logx.Error("NETWORK:SYNC", "certificate read failed: ", err)
			return errorResponse(errors.ErrCodeInternal, errors.ErrMsgInternal)
		}
		if c == nil {
			return errorResponse(errors.ErrCodeNotYetAvailable, errors.ErrMsgCertNotFound, req.Number)
		}
		return &SyncResponse{Certificate: c}
	case KindGenesis:
		g := n.bs.Genesis()
		if g == nil {
			return errorResponse(errors.ErrCodeNoGenesis, errors.ErrMsgGenesisNotSet)
		}
		return &SyncResponse{Genesis: g}
	default:
		return errorResponse(errors.ErrCodeInvalidRequest, errors.ErrMsgUnknownFetchKind, req.Kind)
	}
}

// streamPeer fetches from one remote node over the sync protocol
type streamPeer struct {
	host host.Host
	id   peer.ID
}

var _ fetcher.Peer = (*streamPeer)(nil)

func (p *streamPeer) ID() string {
	return p.id.String()
}

func (p *streamPeer) unavailable(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return errors.Cancelled(ctx.Err())
	}
	return fmt.Errorf("%w: %s: %s: %v", errors.ErrUnavailable, p.id.String(), what, err)
}

func (p *streamPeer) request(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	s, err := p.host.NewStream(ctx, p.id, SyncProtocol)
	if err != nil {
		return nil, p.unavailable(ctx, "open stream", err)
	}
	defer s.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamTimeout)
	}
	_ = s.SetDeadline(deadline)

	if err := jsonx.NewEncoder(s).Encode(req); err != nil {
		_ = s.Reset()
		return nil, p.unavailable(ctx, "write request", err)
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		return nil, p.unavailable(ctx, "close write", err)
	}

	var resp SyncResponse
	if err := jsonx.NewDecoder(io.LimitReader(s, maxResponseSize)).Decode(&resp); err != nil {
		_ = s.Reset()
		return nil, p.unavailable(ctx, "read response", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", resp.Error.Kind(), p.id.String(), resp.Error.Message)
	}
	return &resp, nil
}

func (p *streamPeer) FetchPayload(ctx context.Context, n block.Number) (*block.Payload, error) {
	resp, err := p.request(ctx, SyncRequest{Kind: KindPayload, Number: n})
	if err != nil {
		return nil, err
	}
	if resp.Payload == nil {
		return nil, fmt.Errorf("%w: %s: empty payload response", errors.ErrUnavailable, p.id.String())
	}
	return resp.Payload, nil
}

func (p *streamPeer) FetchCertificate(ctx context.Context, n block.Number) (*consensus.Cert, error) {
	resp, err := p.request(ctx, SyncRequest{Kind: KindCertificate, Number: n})
	if err != nil {
		return nil, err
	}
	if resp.Certificate == nil {
		return nil, fmt.Errorf("%w: %s: empty certificate response", errors.ErrUnavailable, p.id.String())
	}
	return resp.Certificate, nil
}

func (p *streamPeer) FetchGenesis(ctx context.Context) (*genesis.Genesis, error) {
	resp, err := p.request(ctx, SyncRequest{Kind: KindGenesis})
	if err != nil {
		return nil, err
	}
	if resp.Genesis == nil {
		return nil, fmt.Errorf("%w: %s: empty genesis response", errors.ErrUnavailable, p.id.String())
	}
	return resp.Genesis, nil
}
