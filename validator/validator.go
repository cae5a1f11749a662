package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/logx"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryDelay:    200 * time.Millisecond,
		MaxRetryDelay: 10 * time.Second,
	}
}

// Validator is the certifying role: it walks the payload chain from the first
// uncertified block, has the consensus engine certify each one in order and
// writes the certificates back. It first drains the backlog, then follows new payloads.
type Validator struct {
	bs     *blockstore.BlockStore
	engine consensus.Engine
	cfg    Config
}

func New(bs *blockstore.BlockStore, engine consensus.Engine, cfg Config) *Validator {
	return &Validator{bs: bs, engine: engine, cfg: cfg}
}

// Run returns nil on cancellation and an error when the store rejects a certificate
// or cannot be written.
func (v *Validator) Run(ctx context.Context) error {
	if v.bs.Genesis() == nil {
		return fmt.Errorf("validator: %w", errors.ErrNoGenesis)
	}

	n := v.bs.NextCertificate()
	if last, ok := v.bs.LastPayload(); ok && last >= n {
		logx.Info("VALIDATOR", fmt.Sprintf("Backfilling certificates for blocks %d..%d", n, last))
	}

	for {
		if err := v.bs.WaitUntilPayloadPersisted(ctx, n); err != nil {
			if errors.IsCancelled(err) {
				return nil
			}
			return err
		}

		p, err := v.bs.Payload(n)
		if err != nil {
			return fmt.Errorf("validator: read payload %d: %w", n, err)
		}
		if p == nil {
			return fmt.Errorf("validator: payload %d missing below the payload cursor", n)
		}

		cert, err := v.certify(ctx, n, p.Hash())
		if err != nil {
			if errors.IsCancelled(err) {
				logx.Info("VALIDATOR", "Stopped at block ", n)
				return nil
			}
			return err
		}

		if err := v.bs.StoreCertificate(cert); err != nil {
			return fmt.Errorf("validator: store certificate %d: %w", n, err)
		}
		logx.Info("VALIDATOR", fmt.Sprintf("Certified block %d hash=%s signers=%d", n, cert.PayloadHash, len(cert.Signers)))

		// a fetcher may have filled in certificates concurrently
		n = n.Next()
		if next := v.bs.NextCertificate(); next > n {
			n = next
		}
	}
}

func (v *Validator) certify(ctx context.Context, n block.Number, hash block.Hash) (*consensus.Cert, error) {
	backoff := retry.NewExponential(v.cfg.RetryDelay)
	backoff = retry.WithCappedDuration(v.cfg.MaxRetryDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	var cert *consensus.Cert
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := v.engine.Certify(ctx, n, hash)
		if err == nil {
			cert = c
			return nil
		}
		if errors.IsCancelled(err) {
			return err
		}
		logx.Warn("VALIDATOR", fmt.Sprintf("Certify block %d failed (attempt %d): %v", n, attempt, err))
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err())
		}
		return nil, err
	}
	return cert, nil
}
