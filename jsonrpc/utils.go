package jsonrpc

import (
	"os"
	"strconv"
	"strings"
)

// JSON-RPC Method name constants
const (
	MethodSyncGenesis     = "sync.genesis"
	MethodSyncStatus      = "sync.status"
	MethodSyncPayload     = "sync.payload"
	MethodSyncCertificate = "sync.certificate"
)

// CodeNotFound is returned when the node does not hold the requested item (yet)
const CodeNotFound = -32004

// MaxBatchSize bounds the number of calls a client packs into one batch
const MaxBatchSize = 256

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// CORSFromEnv reads CORS_ALLOWED_ORIGINS, CORS_ALLOWED_METHODS, CORS_ALLOWED_HEADERS
// (comma-separated) and CORS_MAX_AGE (seconds). ok is false when none is set.
func CORSFromEnv() (cfg CORSConfig, ok bool) {
	cfg.AllowedOrigins = splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS"))
	cfg.AllowedMethods = splitAndTrim(os.Getenv("CORS_ALLOWED_METHODS"))
	cfg.AllowedHeaders = splitAndTrim(os.Getenv("CORS_ALLOWED_HEADERS"))
	if v, err := strconv.Atoi(os.Getenv("CORS_MAX_AGE")); err == nil && v > 0 {
		cfg.MaxAge = v
	}
	ok = len(cfg.AllowedOrigins) > 0 || len(cfg.AllowedMethods) > 0 || len(cfg.AllowedHeaders) > 0 || cfg.MaxAge > 0
	return cfg, ok
}

func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
