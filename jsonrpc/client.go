package jsonrpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/jsonx"
	"github.com/mezonai/certsync/logx"
)

// Request is one call of a batch
type Request struct {
	Method string
	Params interface{}
}

// BatchResult holds the outcome of one call of a batch, in request order
type BatchResult struct {
	Result json.RawMessage
	Err    error
}

// Client is a JSON-RPC client bound to one remote node. Errors are mapped onto
// errors.ErrNotYetAvailable or errors.ErrUnavailable.
type Client interface {
	Notify(ctx context.Context, method string, params interface{}) error
	Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	BatchRequest(ctx context.Context, reqs []Request) ([]BatchResult, error)
	Component() string
	ForComponent(component string) Client
	Close() error
}

// transport is the type-erased call surface a TaggedClient wraps
type transport interface {
	notify(ctx context.Context, method string, params interface{}) error
	request(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	batch(ctx context.Context, reqs []Request) ([]BatchResult, error)
	target() string
	close() error
}

type httpClient struct {
	url string
	cli *jrpc2.Client
}

// NewHTTPClient dials nothing up front; each call is a POST to url
func NewHTTPClient(url string) Client {
	return &TaggedClient{
		inner: &httpClient{
			url: url,
			cli: jrpc2.NewClient(jhttp.NewChannel(url, nil), nil),
		},
		component: "rpc",
	}
}

func (c *httpClient) target() string { return c.url }

func (c *httpClient) close() error { return c.cli.Close() }

func (c *httpClient) notify(ctx context.Context, method string, params interface{}) error {
	return mapError(c.url, c.cli.Notify(ctx, method, params))
}

func (c *httpClient) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	rsp, err := c.cli.Call(ctx, method, params)
	if err != nil {
		return nil, mapError(c.url, err)
	}
	var out json.RawMessage
	if err := rsp.UnmarshalResult(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: decode %s: %v", errors.ErrUnavailable, c.url, method, err)
	}
	return out, nil
}

func (c *httpClient) batch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	specs := make([]jrpc2.Spec, len(reqs))
	for i, r := range reqs {
		specs[i] = jrpc2.Spec{Method: r.Method, Params: r.Params}
	}
	rsps, err := c.cli.Batch(ctx, specs)
	if err != nil {
		return nil, mapError(c.url, err)
	}
	out := make([]BatchResult, len(rsps))
	for i, rsp := range rsps {
		if rerr := rsp.Error(); rerr != nil {
			out[i].Err = mapError(c.url, rerr)
			continue
		}
		if err := rsp.UnmarshalResult(&out[i].Result); err != nil {
			out[i].Err = fmt.Errorf("%w: %s: decode: %v", errors.ErrUnavailable, c.url, err)
		}
	}
	return out, nil
}

// mapError turns transport and server errors into the fetcher sentinels
func mapError(url string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Cancelled(err)
	}
	var rerr *jrpc2.Error
	if stderrors.As(err, &rerr) {
		if len(rerr.Data) > 0 {
			var netErr errors.NetworkError
			if jsonx.Unmarshal(rerr.Data, &netErr) == nil && netErr.Code != "" {
				return fmt.Errorf("%w: %s: %s", netErr.Kind(), url, netErr.Message)
			}
		}
		if rerr.Code == CodeNotFound {
			return fmt.Errorf("%w: %s: %s", errors.ErrNotYetAvailable, url, rerr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrUnavailable, url, err)
}

// TaggedClient labels log lines with the component issuing the calls
type TaggedClient struct {
	inner     transport
	component string
}

func (t *TaggedClient) Notify(ctx context.Context, method string, params interface{}) error {
	logx.Debug(t.component, "notify ", method, " -> ", t.inner.target())
	return t.inner.notify(ctx, method, params)
}

func (t *TaggedClient) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	logx.Debug(t.component, "request ", method, " -> ", t.inner.target())
	return t.inner.request(ctx, method, params)
}

func (t *TaggedClient) BatchRequest(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d calls exceeds limit %d", len(reqs), MaxBatchSize)
	}
	logx.Debug(t.component, "batch of ", len(reqs), " -> ", t.inner.target())
	return t.inner.batch(ctx, reqs)
}

func (t *TaggedClient) Component() string {
	return t.component
}

// ForComponent shares the underlying connection under a new tag
func (t *TaggedClient) ForComponent(component string) Client {
	return &TaggedClient{inner: t.inner, component: component}
}

func (t *TaggedClient) Close() error {
	return t.inner.close()
}
