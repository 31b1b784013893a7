package ethrpc

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/Aurorachain/dappshell/common/mclock"
	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	rpcTimer  = metrics.NewTimer("provider/rpc")
	rpcErrors = metrics.NewMeter("provider/rpc/errors")
)

// Client is a thin typed wrapper over the eth_ JSON-RPC namespace.
type Client struct {
	c *rpc.Client
}

// Dial connects a client to the given URL.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewClient(c), nil
}

// NewClient creates a client that uses the given RPC client.
func NewClient(c *rpc.Client) *Client {
	return &Client{c}
}

func (ec *Client) Close() {
	ec.c.Close()
}

func (ec *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	defer metrics.Measure(rpcTimer, mclock.Now())
	err := ec.c.CallContext(ctx, result, method, args...)
	if err != nil {
		rpcErrors.Mark(1)
	}
	return err
}

// BlockNumber returns the most recent block number.
func (ec *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	err := ec.call(ctx, &result, "eth_blockNumber")
	return uint64(result), err
}

// ChainID retrieves the current chain ID for transaction replay protection.
func (ec *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := ec.call(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// SuggestGasPrice retrieves the currently suggested gas price.
func (ec *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var hex hexutil.Big
	if err := ec.call(ctx, &hex, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&hex), nil
}

// EstimateGas asks the node how much gas tx needs. The draft's gas limit is
// not forwarded so it cannot cap the estimate.
func (ec *Client) EstimateGas(ctx context.Context, tx *provider.Transaction) (uint64, error) {
	arg := toCallArg(tx)
	delete(arg, "gas")
	var hex hexutil.Uint64
	if err := ec.call(ctx, &hex, "eth_estimateGas", arg); err != nil {
		return 0, err
	}
	return uint64(hex), nil
}

// NonceAt returns the account nonce of the given account at blockTag.
func (ec *Client) NonceAt(ctx context.Context, account common.Address, blockTag string) (uint64, error) {
	var result hexutil.Uint64
	err := ec.call(ctx, &result, "eth_getTransactionCount", account, toBlockTag(blockTag))
	return uint64(result), err
}

// BalanceAt returns the wei balance of the given account at blockTag.
func (ec *Client) BalanceAt(ctx context.Context, account common.Address, blockTag string) (*big.Int, error) {
	var result hexutil.Big
	err := ec.call(ctx, &result, "eth_getBalance", account, toBlockTag(blockTag))
	return (*big.Int)(&result), err
}

// CallContract executes a message call transaction, which is directly executed
// in the VM of the node, but never mined into the blockchain.
func (ec *Client) CallContract(ctx context.Context, tx *provider.Transaction, blockTag string) ([]byte, error) {
	var hex hexutil.Bytes
	if err := ec.call(ctx, &hex, "eth_call", toCallArg(tx), toBlockTag(blockTag)); err != nil {
		return nil, err
	}
	return hex, nil
}

// SendTransaction injects a signed transaction into the pending pool for
// execution.
func (ec *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := ec.call(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(data)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// BlockByRef returns the block header object for a number, tag or hash.
func (ec *Client) BlockByRef(ctx context.Context, ref string) (map[string]interface{}, error) {
	if isHash(ref) {
		return ec.object(ctx, "eth_getBlockByHash", ref, false)
	}
	return ec.object(ctx, "eth_getBlockByNumber", toBlockTag(ref), false)
}

func (ec *Client) TransactionByHash(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	return ec.object(ctx, "eth_getTransactionByHash", hash)
}

func (ec *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	return ec.object(ctx, "eth_getTransactionReceipt", hash)
}

// object returns a JSON object result decoded into a map, nil for null.
func (ec *Client) object(ctx context.Context, method string, args ...interface{}) (map[string]interface{}, error) {
	var raw json.RawMessage
	if err := ec.call(ctx, &raw, method, args...); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// FilterLogs executes a filter query over the inclusive block range.
func (ec *Client) FilterLogs(ctx context.Context, q provider.FilterQuery, from, to uint64) ([]types.Log, error) {
	var result []types.Log
	err := ec.call(ctx, &result, "eth_getLogs", toFilterArg(q, from, to))
	return result, err
}

func toFilterArg(q provider.FilterQuery, from, to uint64) interface{} {
	arg := map[string]interface{}{
		"fromBlock": hexutil.Uint64(from),
		"toBlock":   hexutil.Uint64(to),
	}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}
	return arg
}

func toBlockTag(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}

func isHash(ref string) bool {
	return len(ref) == 2+2*common.HashLength && strings.HasPrefix(ref, "0x")
}

func toCallArg(tx *provider.Transaction) map[string]interface{} {
	arg := map[string]interface{}{
		"from": tx.From,
		"to":   tx.To,
	}
	if len(tx.Data) > 0 {
		arg["data"] = hexutil.Bytes(tx.Data)
	}
	if tx.Value != nil {
		arg["value"] = (*hexutil.Big)(tx.Value)
	}
	if tx.GasLimit != nil {
		arg["gas"] = hexutil.Uint64(*tx.GasLimit)
	}
	if tx.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(tx.GasPrice)
	}
	return arg
}
