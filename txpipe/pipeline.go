// Package txpipe turns transaction drafts into broadcast transactions: it
// gathers the estimate bundle, runs confirmation and unlock with the user,
// signs and broadcasts exactly once.
package txpipe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ButtonUnlock  = "UNLOCK ACCOUNT..."
	ButtonConfirm = "CONFIRM & SEND"

	broadcastTimeout = 30 * time.Second
)

var (
	// ErrEstimate wraps failures of the estimate bundle.
	ErrEstimate = errors.New("estimate failed")

	// ErrBroadcast wraps failures of the broadcast. Broadcasts are never
	// retried by the pipeline.
	ErrBroadcast = errors.New("broadcast failed")
)

var (
	sentCounter      = metrics.NewCounter("txpipe/sent")
	cancelledCounter = metrics.NewCounter("txpipe/cancelled")
	purgedCounter    = metrics.NewCounter("txpipe/purged")
	failedCounter    = metrics.NewCounter("txpipe/failed")
)

// State is the progress of a transaction request.
type State int

const (
	StateDraft State = iota
	StateEstimating
	StateConfirming
	StateUnlocking
	StateSigning
	StateBroadcasting
	StateSent
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateEstimating:
		return "estimating"
	case StateConfirming:
		return "confirming"
	case StateUnlocking:
		return "unlocking"
	case StateSigning:
		return "signing"
	case StateBroadcasting:
		return "broadcasting"
	case StateSent:
		return "sent"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome maps the error returned by Submit to a terminal state. Purged
// requests are Cancelled; errors.Is(err, ui.ErrPurged) tells them apart.
func Outcome(err error) State {
	switch {
	case err == nil:
		return StateSent
	case ui.Aborted(err):
		return StateCancelled
	default:
		return StateFailed
	}
}

// Backend is the part of the provider the pipeline needs.
type Backend interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, tx *provider.Transaction) (uint64, error)
	TransactionCount(ctx context.Context, addr common.Address, blockTag string) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// AccountManager holds the signing capabilities.
type AccountManager interface {
	Locked(a *accounts.Account) bool
	Unlock(ctx context.Context, a *accounts.Account, password string, progress accounts.ProgressFunc) error
	Sign(a *accounts.Account, tx *types.Transaction) (*types.Transaction, error)
}

// Confirmer is the presentation layer. Confirm and Password return
// ui.ErrCancelled when the user declines and must return once ctx ends.
type Confirmer interface {
	Confirm(ctx context.Context, req *Request) error
	Password(ctx context.Context, a *accounts.Account) (string, error)
	Progress(title string) accounts.ProgressFunc
	Notify(title, message string)
}

// Request is what the confirmer is shown. Tx must not be modified.
type Request struct {
	Title    string
	Button   string
	Account  *accounts.Account
	Tx       *provider.Transaction
	Estimate *EstimateFuture
}

// Options tune a single submission.
type Options struct {
	Title string

	// SkipPreview goes straight to unlocking a locked account instead of
	// showing the draft first.
	SkipPreview bool
}

// Result of a broadcast transaction. Address is the recipient, or the
// created contract for deployments.
type Result struct {
	Hash    common.Hash
	Address common.Address
}

// Pipeline submits transactions. Only one submission holds the presentation
// slot at a time, a new one purges the previous.
type Pipeline struct {
	backend   Backend
	accounts  AccountManager
	confirmer Confirmer
	slot      *ui.Slot
	senders   senderLocks
}

// New creates a pipeline. A nil slot gives the pipeline a private one.
func New(backend Backend, am AccountManager, confirmer Confirmer, slot *ui.Slot) *Pipeline {
	if slot == nil {
		slot = new(ui.Slot)
	}
	return &Pipeline{
		backend:   backend,
		accounts:  am,
		confirmer: confirmer,
		slot:      slot,
	}
}

// Submit runs tx from account through confirmation, signing and broadcast.
// The draft's sender is always account; a missing gas limit defaults to
// params.DefaultGasLimit. Nothing is signed or broadcast once ctx ends.
func (p *Pipeline) Submit(ctx context.Context, account *accounts.Account, tx *provider.Transaction, opts Options) (*Result, error) {
	res, err := p.submit(ctx, account, tx, opts)
	switch {
	case err == nil:
		sentCounter.Inc(1)
	case errors.Is(err, ui.ErrPurged):
		purgedCounter.Inc(1)
	case Outcome(err) == StateCancelled:
		cancelledCounter.Inc(1)
	default:
		failedCounter.Inc(1)
	}
	return res, err
}

func (p *Pipeline) submit(ctx context.Context, account *accounts.Account, tx *provider.Transaction, opts Options) (*Result, error) {
	ctx, release := p.slot.Acquire(ctx)
	defer release()

	logger := log.New("from", account.Address)
	if opts.Title == "" {
		opts.Title = "Send Transaction"
		if tx.To == nil {
			opts.Title = "Deploy Contract"
		}
	}

	// Draft
	draft := tx.Copy()
	draft.From = account.Address
	if draft.GasLimit == nil {
		gas := params.DefaultGasLimit
		draft.GasLimit = &gas
	}

	// Estimating, concurrently with confirmation
	estimate := startEstimate(ctx, p.backend, draft.Copy())
	req := &Request{
		Title:    opts.Title,
		Account:  account,
		Tx:       draft.Copy(),
		Estimate: estimate,
	}

	// Confirming, with unlock when needed
	if p.accounts.Locked(account) {
		if !opts.SkipPreview {
			req.Button = ButtonUnlock
			if err := p.confirm(ctx, req); err != nil {
				return nil, err
			}
		}
		if err := p.unlock(ctx, opts.Title, account); err != nil {
			return nil, err
		}
	}
	req.Button = ButtonConfirm
	if err := p.confirm(ctx, req); err != nil {
		return nil, err
	}

	// Signing
	est, err := estimate.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		logger.Debug("Estimate bundle failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrEstimate, err)
	}
	if draft.GasPrice == nil {
		draft.GasPrice = est.GasPrice
	}

	if n := p.senders.pending(account.Address); n > 0 {
		logger.Debug("Waiting for earlier transactions of the sender", "queued", n)
	}
	releaseSender := p.senders.acquire(account.Address)
	defer releaseSender()

	if draft.Nonce == nil {
		nonce := est.Nonce
		draft.Nonce = &nonce
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	signed, err := p.accounts.Sign(account, toTransaction(draft))
	if err != nil {
		return nil, err
	}

	// Broadcasting
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	bctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	hash, err := p.backend.SendTransaction(bctx, signed)
	if err != nil {
		logger.Warn("Transaction broadcast failed", "nonce", signed.Nonce(), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrBroadcast, err)
	}

	// Sent
	res := &Result{Hash: hash}
	if draft.To != nil {
		res.Address = *draft.To
		logger.Info("Submitted transaction", "hash", hash, "nonce", signed.Nonce(), "to", res.Address)
	} else {
		res.Address = crypto.CreateAddress(account.Address, signed.Nonce())
		logger.Info("Submitted contract creation", "hash", hash, "nonce", signed.Nonce(), "contract", res.Address)
	}
	return res, nil
}

// confirm shows req. A purge of ctx takes precedence over whatever the
// confirmer returned.
func (p *Pipeline) confirm(ctx context.Context, req *Request) error {
	err := p.confirmer.Confirm(ctx, req)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// unlock prompts for the password until the account unlocks or the user
// gives up. Wrong passwords re-prompt.
func (p *Pipeline) unlock(ctx context.Context, title string, account *accounts.Account) error {
	for {
		password, err := p.confirmer.Password(ctx, account)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			return err
		}
		err = p.accounts.Unlock(ctx, account, password, p.confirmer.Progress("Unlocking account"))
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return context.Cause(ctx)
		case errors.Is(err, accounts.ErrInvalidPassword):
			p.confirmer.Notify(title, "Incorrect password, please try again.")
		default:
			return err
		}
	}
}

func toTransaction(draft *provider.Transaction) *types.Transaction {
	value := draft.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    *draft.Nonce,
		GasPrice: draft.GasPrice,
		Gas:      *draft.GasLimit,
		To:       draft.To,
		Value:    value,
		Data:     draft.Data,
	})
}
