package txpipe

import (
	"context"
	"math/big"

	"github.com/Aurorachain/dappshell/provider"
	"golang.org/x/sync/errgroup"
)

// Estimate is the network data a draft is completed with.
type Estimate struct {
	GasPrice *big.Int
	GasLimit uint64 // node estimate, informational
	Nonce    uint64 // pending nonce of the sender
}

// EstimateFuture resolves to the estimate bundle of a draft. The three
// lookups run concurrently.
type EstimateFuture struct {
	done chan struct{}
	est  Estimate
	err  error
}

func startEstimate(ctx context.Context, backend Backend, tx *provider.Transaction) *EstimateFuture {
	f := &EstimateFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)

		var est Estimate
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			est.GasPrice, err = backend.GasPrice(gctx)
			return err
		})
		g.Go(func() (err error) {
			est.GasLimit, err = backend.EstimateGas(gctx, tx)
			return err
		})
		g.Go(func() (err error) {
			est.Nonce, err = backend.TransactionCount(gctx, tx.From, "pending")
			return err
		})
		if f.err = g.Wait(); f.err == nil {
			f.est = est
		}
	}()
	return f
}

// Done is closed once the estimate is resolved.
func (f *EstimateFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the resolved estimate. It must only be called after Done
// is closed.
func (f *EstimateFuture) Result() (Estimate, error) {
	return f.est, f.err
}

// Wait blocks until the estimate resolves or ctx ends.
func (f *EstimateFuture) Wait(ctx context.Context) (Estimate, error) {
	select {
	case <-f.done:
		return f.est, f.err
	case <-ctx.Done():
		return Estimate{}, context.Cause(ctx)
	}
}
