package ethrpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAccount = common.HexToAddress("0x71c7656ec7ab88b098defb751b7401b5f6d8976f")
	testTopic   = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	testHash    = "0x" + common.Bytes2Hex(common.HexToHash("0x0b").Bytes())
)

// fakeEth serves the eth_ namespace from canned values.
type fakeEth struct {
	mu       sync.Mutex
	head     uint64
	ranges   [][2]uint64
	raw      []hexutil.Bytes
	blockReq int
}

func (s *fakeEth) BlockNumber() hexutil.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hexutil.Uint64(s.head)
}

func (s *fakeEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(2e9))
}

func (s *fakeEth) GetBalance(addr common.Address, tag string) *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(int64(s.BlockNumber()) * 1000))
}

func (s *fakeEth) GetTransactionCount(addr common.Address, tag string) hexutil.Uint64 {
	if tag == "pending" {
		return 8
	}
	return 7
}

func (s *fakeEth) EstimateGas(arg map[string]interface{}) (hexutil.Uint64, error) {
	if _, ok := arg["gas"]; ok {
		return 0, errUnexpectedGas
	}
	return 53000, nil
}

func (s *fakeEth) Call(arg map[string]interface{}, tag string) hexutil.Bytes {
	return hexutil.Bytes{0xca, 0xfe}
}

func (s *fakeEth) SendRawTransaction(data hexutil.Bytes) common.Hash {
	s.mu.Lock()
	s.raw = append(s.raw, data)
	s.mu.Unlock()

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return common.Hash{}
	}
	return tx.Hash()
}

func (s *fakeEth) GetBlockByNumber(tag string, full bool) map[string]interface{} {
	s.mu.Lock()
	s.blockReq++
	s.mu.Unlock()
	if tag == "0x63" {
		return nil
	}
	return map[string]interface{}{"number": tag, "hash": testHash, "miner": "0x00"}
}

func (s *fakeEth) GetBlockByHash(hash string, full bool) map[string]interface{} {
	s.mu.Lock()
	s.blockReq++
	s.mu.Unlock()
	return map[string]interface{}{"number": "0x5", "hash": hash}
}

func (s *fakeEth) GetLogs(arg map[string]interface{}) []types.Log {
	from, _ := hexutil.DecodeUint64(arg["fromBlock"].(string))
	to, _ := hexutil.DecodeUint64(arg["toBlock"].(string))
	s.mu.Lock()
	s.ranges = append(s.ranges, [2]uint64{from, to})
	s.mu.Unlock()

	return []types.Log{{
		Address:     testAccount,
		Topics:      []common.Hash{testTopic},
		Data:        []byte{1},
		BlockNumber: to,
		TxHash:      common.HexToHash("0x01"),
	}}
}

type rpcError string

func (e rpcError) Error() string { return string(e) }

const errUnexpectedGas = rpcError("gas must not be forwarded")

func newTestProvider(t *testing.T, faucet string) (*Provider, *fakeEth) {
	eth := &fakeEth{head: 10}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	t.Cleanup(server.Stop)

	p := New(NewClient(rpc.DialInProc(server)), Config{FaucetURL: faucet})
	return p, eth
}

func TestPollBlocksAndBalances(t *testing.T) {
	p, eth := newTestProvider(t, "")

	blocks := make(chan uint64, 4)
	infos := make(chan provider.AccountInfo, 4)
	p.SubscribeNewBlock(blocks)
	p.SubscribeAccounts(infos)
	p.WatchAccount(testAccount)

	p.poll()
	require.Equal(t, uint64(10), <-blocks)
	info := <-infos
	assert.Equal(t, testAccount, info.Address)
	assert.Equal(t, int64(10000), info.Balance.Int64())
	assert.Equal(t, uint64(10), p.BlockNumber())
	assert.Equal(t, int64(2e9), p.LatestGasPrice().Int64())

	// An unchanged head is not re-announced.
	p.poll()
	select {
	case n := <-blocks:
		t.Fatalf("duplicate block announced: %d", n)
	default:
	}

	p.UnwatchAccount(testAccount)
	eth.mu.Lock()
	eth.head = 11
	eth.mu.Unlock()
	p.poll()
	require.Equal(t, uint64(11), <-blocks)
	select {
	case info := <-infos:
		t.Fatalf("unwatched account refreshed: %v", info)
	default:
	}
}

func TestFilters(t *testing.T) {
	p, eth := newTestProvider(t, "")
	p.poll()

	var (
		mu   sync.Mutex
		logs []types.Log
	)
	id, err := p.RegisterFilter(provider.FilterQuery{Topics: [][]common.Hash{{testTopic}}}, func(l types.Log) {
		mu.Lock()
		logs = append(logs, l)
		mu.Unlock()
	})
	require.NoError(t, err)

	eth.mu.Lock()
	eth.head = 12
	eth.mu.Unlock()
	p.poll()

	mu.Lock()
	require.Len(t, logs, 1)
	assert.Equal(t, testTopic, logs[0].Topics[0])
	mu.Unlock()

	eth.mu.Lock()
	assert.Equal(t, [][2]uint64{{11, 12}}, eth.ranges)
	eth.head = 13
	eth.mu.Unlock()

	require.NoError(t, p.UnregisterFilter(id))
	assert.Equal(t, provider.ErrNotFound, p.UnregisterFilter(id))
	p.poll()

	mu.Lock()
	assert.Len(t, logs, 1, "unregistered filter still delivered")
	mu.Unlock()
}

func TestReads(t *testing.T) {
	p, eth := newTestProvider(t, "")
	ctx := context.Background()

	gas := uint64(300000)
	tx := &provider.Transaction{From: testAccount, GasLimit: &gas}
	est, err := p.EstimateGas(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(53000), est)

	nonce, err := p.TransactionCount(ctx, testAccount, "pending")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), nonce)

	out, err := p.Call(ctx, tx, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, out)

	block, err := p.Block(ctx, "0x5")
	require.NoError(t, err)
	assert.Equal(t, testHash, block["hash"])

	// Lookups by hash are served from the cache once the block was seen.
	_, err = p.Block(ctx, testHash)
	require.NoError(t, err)
	eth.mu.Lock()
	assert.Equal(t, 1, eth.blockReq)
	eth.mu.Unlock()

	missing, err := p.Block(ctx, "0x63")
	require.NoError(t, err)
	assert.Nil(t, missing)

	signed := types.NewTransaction(1, testAccount, big.NewInt(1), 21000, big.NewInt(1), nil)
	hash, err := p.SendTransaction(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash(), hash)
}

func TestFundAccount(t *testing.T) {
	var got faucetRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(faucetReply{Hash: common.HexToHash("0xfeed")})
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := p.FundAccount(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), hash)
	assert.Equal(t, testAccount, got.Address)

	p2, _ := newTestProvider(t, "")
	_, err = p2.FundAccount(ctx, testAccount)
	assert.Equal(t, provider.ErrNoFaucet, err)
}
