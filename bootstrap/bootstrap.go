// Package bootstrap prepares an empty store so a node can start: either from
// block zero or right after a snapshot.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/snapshot"
	"github.com/mezonai/certsync/store"
)

// FromGenesis starts the store at block zero and, when g is set, adopts it.
// Running it again on the same store is a no-op.
func FromGenesis(ctx context.Context, st store.SyncStore, g *genesis.Genesis) error {
	if err := st.InitFirst(0); err != nil {
		return err
	}
	if g == nil {
		logx.Info("BOOTSTRAP", "Store starts at block 0 without genesis")
		return nil
	}
	bs, err := blockstore.New(st, nil)
	if err != nil {
		return err
	}
	outcome, err := genesis.TryUpdate(ctx, bs, g)
	if err != nil {
		return err
	}
	logx.Info("BOOTSTRAP", "Store starts at block 0, genesis ", outcome)
	return nil
}

// FromSnapshot starts the store at snap.Block+1, adopts the snapshot genesis and
// seeds the trailing blocks. Certificates are checked against that genesis.
// Running it again with the same snapshot is a no-op.
func FromSnapshot(ctx context.Context, st store.SyncStore, snap *snapshot.File) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	first := snap.Block + 1
	if err := st.InitFirst(first); err != nil {
		return err
	}
	bs, err := blockstore.New(st, nil)
	if err != nil {
		return err
	}

	if snap.Genesis != nil {
		if _, err := genesis.TryUpdate(ctx, bs, snap.Genesis); err != nil {
			return err
		}
	}

	for _, p := range snap.Payloads {
		if err := bs.QueuePayload(p); err != nil {
			return fmt.Errorf("seed payload %d: %w", p.Number, err)
		}
	}
	if len(snap.Certificates) > 0 {
		if err := seedCertificates(bs, snap.Certificates); err != nil {
			return err
		}
	}

	logx.Info("BOOTSTRAP", fmt.Sprintf("Store starts at block %d with %d trailing payloads and %d certificates",
		first, len(snap.Payloads), len(snap.Certificates)))
	return nil
}

func seedCertificates(bs *blockstore.BlockStore, certs []*consensus.Cert) error {
	g := bs.Genesis()
	if g == nil {
		return fmt.Errorf("%w: snapshot carries certificates but no genesis", errors.ErrNoGenesis)
	}
	vs, err := g.ValidatorSet()
	if err != nil {
		return err
	}
	for _, c := range certs {
		if c.Number < bs.CertificateFirst() {
			continue
		}
		if err := consensus.VerifyCert(c, vs, g.ChainID); err != nil {
			return fmt.Errorf("seed certificate %d: %w", c.Number, err)
		}
		if err := bs.StoreCertificate(c); err != nil {
			return fmt.Errorf("seed certificate %d: %w", c.Number, err)
		}
	}
	return nil
}
