package bridge

import (
	"context"
	"time"

	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// readTimeout bounds the provider calls made for read-only actions.
const readTimeout = 30 * time.Second

var errAddressMismatch = errors.New("transaction sender is not the active account")

// dispatch runs one validated request. Actions waiting on the network or the
// user run on their own goroutine; their reply is dropped if the session is
// detached before they finish.
func (h *Handler) dispatch(s *session, req *request) {
	args, err := req.decodeParams()
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}
	switch req.Action {
	case ActionReady:
		h.ready(s, args)

	case ActionGetAccount:
		var addr interface{}
		if a := h.accounts.Active(); a != nil {
			addr = a.Address.Hex()
		}
		h.reply(s, req.ID, addr)

	case ActionGetNetwork:
		h.reply(s, req.ID, h.network.Name)

	case ActionFundAccount:
		h.fundAccount(s, req, args)

	case ActionSetupEvent:
		h.setupEvent(s, req, args)

	case ActionTeardownEvent:
		eventID, err := ensureInteger(args["eventId"], "eventId")
		if err == nil {
			err = s.filters.Unsubscribe(eventID)
		}
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.reply(s, req.ID, true)

	case ActionNotify:
		message, err := ensureString(args["message"], "message")
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.mu.Lock()
		name := s.info.Name
		h.mu.Unlock()
		h.notifier.Notify("Application - "+name, message)

	case ActionSend, ActionSendTransaction, ActionDeployContract:
		h.submit(s, req, args)

	case ActionCall:
		tx, tag, err := h.readTransaction(args)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			out, err := h.provider.Call(ctx, tx, tag)
			if err != nil {
				return nil, err
			}
			return hexutil.Encode(out), nil
		})

	case ActionEstimateGas:
		tx, _, err := h.readTransaction(args)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			gas, err := h.provider.EstimateGas(ctx, tx)
			if err != nil {
				return nil, err
			}
			return hexutil.EncodeUint64(gas), nil
		})

	case ActionGetBalance:
		addr, tag, err := accountQuery(args)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			balance, err := h.provider.Balance(ctx, addr, tag)
			if err != nil {
				return nil, err
			}
			return hexutil.EncodeBig(balance), nil
		})

	case ActionGetTransactionCount:
		addr, tag, err := accountQuery(args)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			return h.provider.TransactionCount(ctx, addr, tag)
		})

	case ActionGetBlock:
		ref, err := ensureBlockRef(args["block"], "block")
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			block, err := h.provider.Block(ctx, ref)
			return prune(block, blockFields), err
		})

	case ActionGetBlockNumber:
		h.reply(s, req.ID, h.provider.BlockNumber())

	case ActionGetGasPrice:
		if price := h.provider.LatestGasPrice(); price != nil {
			h.reply(s, req.ID, hexutil.EncodeBig(price))
			return
		}
		// Nothing polled yet, ask the node.
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			price, err := h.provider.GasPrice(ctx)
			if err != nil {
				return nil, err
			}
			if price == nil {
				return nil, nil
			}
			return hexutil.EncodeBig(price), nil
		})

	case ActionGetTransaction:
		hash, err := ensureHash(args["hash"], "hash")
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			tx, err := h.provider.Transaction(ctx, hash)
			return prune(tx, transactionFields), err
		})

	case ActionGetTransactionReceipt:
		hash, err := ensureHash(args["hash"], "hash")
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.async(s, req, func(ctx context.Context) (interface{}, error) {
			receipt, err := h.provider.TransactionReceipt(ctx, hash)
			return prune(receipt, receiptFields), err
		})

	default:
		s.log.Debug("Unknown bridge action", "action", req.Action)
		h.post(s, encodeError(req.ID, ErrInvalidCommand))
	}
}

// async runs fn on its own goroutine under the session context and replies
// with its outcome.
func (h *Handler) async(s *session, req *request, fn func(ctx context.Context) (interface{}, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, readTimeout)
		defer cancel()

		result, err := fn(ctx)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		h.reply(s, req.ID, result)
	}()
}

// ready marks the session ready, adopts the application title and pushes
// the current block.
func (h *Handler) ready(s *session, args map[string]interface{}) {
	title, _ := args["title"].(string)
	n := h.provider.BlockNumber()

	h.mu.Lock()
	if !h.live(s) {
		h.mu.Unlock()
		return
	}
	s.info.Ready = true
	if title != "" {
		s.info.Name = title
	}
	s.lastBlock = int64(n)
	info := s.info
	h.mu.Unlock()

	s.log.Info("Application ready", "name", info.Name)
	h.notify(s, notifyReady, nil)
	h.notify(s, notifyBlock, map[string]interface{}{"blockNumber": n})
	h.sessionFeed.Send(info)
}

func (h *Handler) fundAccount(s *session, req *request, args map[string]interface{}) {
	if !h.network.Testnet {
		h.post(s, encodeError(req.ID, ErrInvalidNetwork))
		return
	}
	addr, err := ensureAddress(args["address"], "address")
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}
	h.async(s, req, func(ctx context.Context) (interface{}, error) {
		hash, err := h.provider.FundAccount(ctx, addr)
		if err != nil {
			return nil, err
		}
		return hash.Hex(), nil
	})
}

func (h *Handler) setupEvent(s *session, req *request, args map[string]interface{}) {
	eventID, err := ensureInteger(args["eventId"], "eventId")
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}
	q, err := filterQuery(args)
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}
	err = s.filters.Subscribe(eventID, q, func(eventID int64, l types.Log) {
		h.mu.Lock()
		ready := h.live(s) && s.info.Ready
		h.mu.Unlock()
		if ready {
			h.notify(s, notifyEvent, map[string]interface{}{"eventId": eventID, "data": l})
		}
	})
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}
	h.reply(s, req.ID, true)
}

// filterQuery reads the topics and the optional emitting address of a
// setupEvent request. Each topic position is null, a hash or a list of
// alternative hashes.
func filterQuery(args map[string]interface{}) (provider.FilterQuery, error) {
	var q provider.FilterQuery
	if v, ok := args["address"]; ok && v != nil {
		addr, err := ensureAddress(v, "address")
		if err != nil {
			return q, err
		}
		q.Addresses = []common.Address{addr}
	}
	topics, ok := args["topics"].([]interface{})
	if !ok {
		if args["topics"] != nil {
			return q, invalid("topics")
		}
		return q, nil
	}
	for _, position := range topics {
		switch position := position.(type) {
		case nil:
			q.Topics = append(q.Topics, nil)
		case []interface{}:
			var alternatives []common.Hash
			for _, topic := range position {
				hash, err := ensureHash(topic, "topic")
				if err != nil {
					return q, err
				}
				alternatives = append(alternatives, hash)
			}
			q.Topics = append(q.Topics, alternatives)
		default:
			hash, err := ensureHash(position, "topic")
			if err != nil {
				return q, err
			}
			q.Topics = append(q.Topics, []common.Hash{hash})
		}
	}
	return q, nil
}

// readTransaction validates the transaction of a call or estimateGas
// request. Without an explicit sender the active account is used.
func (h *Handler) readTransaction(args map[string]interface{}) (*provider.Transaction, string, error) {
	tx, hasFrom, err := checkTransaction(args["transaction"])
	if err != nil {
		return nil, "", err
	}
	if !hasFrom {
		if a := h.accounts.Active(); a != nil {
			tx.From = a.Address
		}
	}
	tag, err := blockTagArg(args)
	return tx, tag, err
}

func accountQuery(args map[string]interface{}) (common.Address, string, error) {
	addr, err := ensureAddress(args["address"], "address")
	if err != nil {
		return common.Address{}, "", err
	}
	tag, err := blockTagArg(args)
	return addr, tag, err
}

// blockTagArg reads blockTag, falling back to blockNumber.
func blockTagArg(args map[string]interface{}) (string, error) {
	if v, ok := args["blockTag"]; ok {
		return ensureBlockTag(v, "blockTag")
	}
	return ensureBlockTag(args["blockNumber"], "blockNumber")
}

// submit hands send, sendTransaction and deployContract requests to the
// pipeline. Without an active account they are cancelled outright.
func (h *Handler) submit(s *session, req *request, args map[string]interface{}) {
	account := h.accounts.Active()
	if account == nil {
		h.post(s, encodeError(req.ID, ErrCancelled))
		return
	}
	var (
		tx   *provider.Transaction
		opts txpipe.Options
		err  error
	)
	switch req.Action {
	case ActionSend:
		var to common.Address
		if to, err = ensureAddress(args["address"], "address"); err != nil {
			break
		}
		tx = &provider.Transaction{To: &to}
		if tx.Value, err = ensureQuantity(args["amountWei"], "amountWei"); err != nil {
			break
		}
		opts = txpipe.Options{Title: "Send Ether", SkipPreview: true}

	case ActionSendTransaction:
		var hasFrom bool
		if tx, hasFrom, err = checkTransaction(args["transaction"]); err != nil {
			break
		}
		if hasFrom && tx.From != account.Address {
			err = errAddressMismatch
		}
		opts = txpipe.Options{Title: "Send Transaction"}

	case ActionDeployContract:
		tx = new(provider.Transaction)
		tx.Data, err = ensureBytes(args["bytecode"], "bytecode")
		opts = txpipe.Options{Title: "Deploy Contract"}
	}
	if err != nil {
		h.fail(s, req.ID, req.Action, err)
		return
	}

	go func() {
		res, err := h.pipeline.Submit(s.ctx, account, tx, opts)
		if err != nil {
			h.fail(s, req.ID, req.Action, err)
			return
		}
		if req.Action == ActionDeployContract {
			h.reply(s, req.ID, map[string]interface{}{"hash": res.Hash.Hex(), "address": res.Address.Hex()})
			return
		}
		h.reply(s, req.ID, res.Hash.Hex())
	}()
}
