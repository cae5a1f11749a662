package jsonrpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/exception"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
)

// Reader is the block store read surface served to peers
type Reader interface {
	Status() blockstore.Status
	Genesis() *genesis.Genesis
	Payload(n block.Number) (*block.Payload, error)
	Certificate(n block.Number) (*consensus.Cert, error)
}

// HeightSource reports the highest block number announced by peers
type HeightSource interface {
	HighestKnown() (block.Number, bool)
}

type numberParams struct {
	Number block.Number `json:"number"`
}

func toJRPC2Error(code jrpc2.Code, netErr *errors.NetworkError) error {
	return jrpc2.Errorf(code, "%s", netErr.Message).WithData(netErr)
}

func notFound(code errors.NetworkErrorCode, format string, args ...interface{}) error {
	return toJRPC2Error(CodeNotFound, &errors.NetworkError{Code: code, Message: fmt.Sprintf(format, args...)})
}

func internalError(err error) error {
	logx.Error("RPC", "handler failed: ", err)
	return toJRPC2Error(jrpc2.InternalError, &errors.NetworkError{Code: errors.ErrCodeInternal, Message: errors.ErrMsgInternal})
}

type Server struct {
	addr       string
	store      Reader
	heights    HeightSource
	corsConfig CORSConfig
}

func NewServer(addr string, store Reader) *Server {
	return &Server{addr: addr, store: store}
}

// SetCORSConfig allows configuring CORS settings
func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

// SetHeightSource adds the peers' highest known block to sync.status
func (s *Server) SetHeightSource(src HeightSource) {
	s.heights = src
}

// Handler returns the HTTP handler bridging requests to the method map
func (s *Server) Handler() http.Handler {
	bridge := jhttp.NewBridge(s.buildMethodMap(), &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		bridge.ServeHTTP(w, r)
	})
}

// Serve listens on the configured address until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	exception.SafeGo("rpc-shutdown", func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	logx.Info("RPC", "JSON-RPC server listening on ", s.addr)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("json-rpc server: %w", err)
	}
	return nil
}

func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		MethodSyncGenesis: handler.New(func(ctx context.Context) (*genesis.Genesis, error) {
			g := s.store.Genesis()
			if g == nil {
				return nil, notFound(errors.ErrCodeNoGenesis, errors.ErrMsgGenesisNotSet)
			}
			return g, nil
		}),
		MethodSyncStatus: handler.New(func(ctx context.Context) (blockstore.Status, error) {
			st := s.store.Status()
			if s.heights != nil {
				if n, ok := s.heights.HighestKnown(); ok {
					st.HighestKnown = &n
				}
			}
			return st, nil
		}),
		MethodSyncPayload: handler.New(func(ctx context.Context, p numberParams) (*block.Payload, error) {
			payload, err := s.store.Payload(p.Number)
			if err != nil {
				return nil, internalError(err)
			}
			if payload == nil {
				return nil, notFound(errors.ErrCodeNotYetAvailable, errors.ErrMsgPayloadNotFound, p.Number)
			}
			return payload, nil
		}),
		MethodSyncCertificate: handler.New(func(ctx context.Context, p numberParams) (*consensus.Cert, error) {
			cert, err := s.store.Certificate(p.Number)
			if err != nil {
				return nil, internalError(err)
			}
			if cert == nil {
				return nil, notFound(errors.ErrCodeNotYetAvailable, errors.ErrMsgCertNotFound, p.Number)
			}
			return cert, nil
		}),
	}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	cfg := s.corsConfig
	if len(cfg.AllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				break
			}
		}
	}
	if len(cfg.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	}
	if len(cfg.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	if cfg.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}
}
