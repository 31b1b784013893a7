package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
)

const maxFaucetReply = 64 * 1024

type faucetRequest struct {
	Address common.Address `json:"address"`
}

type faucetReply struct {
	Hash  common.Hash `json:"hash"`
	Error string      `json:"error,omitempty"`
}

// FundAccount asks the configured test network faucet to send ether to addr
// and returns the funding transaction hash.
func (p *Provider) FundAccount(ctx context.Context, addr common.Address) (common.Hash, error) {
	if p.config.FaucetURL == "" {
		return common.Hash{}, provider.ErrNoFaucet
	}
	body, _ := json.Marshal(faucetRequest{Address: addr})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.FaucetURL, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxFaucetReply))
	if err != nil {
		return common.Hash{}, err
	}
	if res.StatusCode != http.StatusOK {
		return common.Hash{}, fmt.Errorf("faucet returned %s", res.Status)
	}
	var reply faucetReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return common.Hash{}, err
	}
	if reply.Error != "" {
		return common.Hash{}, fmt.Errorf("faucet: %s", reply.Error)
	}
	log.Info("Faucet funded account", "address", addr, "tx", reply.Hash)
	return reply.Hash, nil
}
