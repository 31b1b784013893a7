package bridge

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

func invalid(name string) error {
	return errors.Errorf("invalid %s", name)
}

func ensureString(v interface{}, name string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", invalid(name)
	}
	return s, nil
}

// ensureHexString accepts 0x-prefixed strings of hex digit pairs.
func ensureHexString(v interface{}, name string) (string, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "0x") || len(s)%2 != 0 {
		return "", invalid(name)
	}
	for _, c := range s[2:] {
		if !isHexDigit(c) {
			return "", invalid(name)
		}
	}
	return s, nil
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func ensureBytes(v interface{}, name string) ([]byte, error) {
	s, err := ensureHexString(v, name)
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(s)
}

// ensureAddress accepts 40 hex digits with or without the 0x prefix. Mixed
// case input must carry a valid checksum.
func ensureAddress(v interface{}, name string) (common.Address, error) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, invalid(name)
	}
	addr := common.HexToAddress(s)
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		if addr.Hex()[2:] != digits {
			return common.Address{}, errors.Errorf("bad checksum for %s", name)
		}
	}
	return addr, nil
}

// ensureInteger accepts non-negative integral JSON numbers.
func ensureInteger(v interface{}, name string) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, invalid(name)
	}
	i, err := n.Int64()
	if err != nil || i < 0 {
		return 0, invalid(name)
	}
	return i, nil
}

// ensureQuantity accepts a hex string or a non-negative integral number.
func ensureQuantity(v interface{}, name string) (*big.Int, error) {
	switch v := v.(type) {
	case json.Number:
		i, ok := new(big.Int).SetString(v.String(), 10)
		if !ok || i.Sign() < 0 {
			return nil, invalid(name)
		}
		return i, nil
	case string:
		// Quantities may have an odd number of digits.
		if !strings.HasPrefix(v, "0x") || len(v) == 2 {
			return nil, invalid(name)
		}
		i, ok := new(big.Int).SetString(v[2:], 16)
		if !ok || i.Sign() < 0 {
			return nil, invalid(name)
		}
		return i, nil
	}
	return nil, invalid(name)
}

func ensureUint64(v interface{}, name string) (uint64, error) {
	i, err := ensureQuantity(v, name)
	if err != nil {
		return 0, err
	}
	if !i.IsUint64() {
		return 0, invalid(name)
	}
	return i.Uint64(), nil
}

// ensureBlockTag turns a block number or tag into the form the provider
// takes. Missing values select the latest block.
func ensureBlockTag(v interface{}, name string) (string, error) {
	switch v := v.(type) {
	case nil:
		return "latest", nil
	case json.Number:
		n, err := ensureInteger(v, name)
		if err != nil {
			return "", err
		}
		return hexutil.EncodeUint64(uint64(n)), nil
	case string:
		switch v {
		case "latest", "pending", "earliest":
			return v, nil
		}
		n, err := ensureUint64(v, name)
		if err != nil {
			return "", err
		}
		return hexutil.EncodeUint64(n), nil
	}
	return "", invalid(name)
}

// ensureBlockRef accepts a block hash, number or tag.
func ensureBlockRef(v interface{}, name string) (string, error) {
	if s, ok := v.(string); ok && len(s) == 66 {
		if _, err := ensureHexString(s, name); err != nil {
			return "", err
		}
		return s, nil
	}
	return ensureBlockTag(v, name)
}

func ensureHash(v interface{}, name string) (common.Hash, error) {
	s, err := ensureHexString(v, name)
	if err != nil || len(s) != 66 {
		return common.Hash{}, invalid(name)
	}
	return common.HexToHash(s), nil
}

// txFields are the transaction keys applications may set. Anything else is
// ignored.
var txFields = []string{"to", "from", "data", "gasPrice", "gasLimit", "nonce", "value"}

// checkTransaction copies the whitelisted fields of an application supplied
// transaction into a draft. hasFrom reports whether a sender was given.
func checkTransaction(v interface{}) (tx *provider.Transaction, hasFrom bool, err error) {
	fields, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, invalid("transaction")
	}
	tx = new(provider.Transaction)
	for _, key := range txFields {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		switch key {
		case "to":
			if s, ok := value.(string); ok && s == "" {
				continue
			}
			to, err := ensureAddress(value, key)
			if err != nil {
				return nil, false, err
			}
			tx.To = &to
		case "from":
			if s, ok := value.(string); ok && s == "" {
				continue
			}
			if tx.From, err = ensureAddress(value, key); err != nil {
				return nil, false, err
			}
			hasFrom = true
		case "data":
			if tx.Data, err = ensureBytes(value, key); err != nil {
				return nil, false, err
			}
		case "gasPrice":
			if tx.GasPrice, err = ensureQuantity(value, key); err != nil {
				return nil, false, err
			}
		case "value":
			if tx.Value, err = ensureQuantity(value, key); err != nil {
				return nil, false, err
			}
		case "gasLimit":
			gas, err := ensureUint64(value, key)
			if err != nil {
				return nil, false, err
			}
			tx.GasLimit = &gas
		case "nonce":
			nonce, err := ensureUint64(value, key)
			if err != nil {
				return nil, false, err
			}
			tx.Nonce = &nonce
		}
	}
	return tx, hasFrom, nil
}

// Whitelists of the provider fields passed back to applications.
var (
	blockFields = []string{"extraData", "gasLimit", "gasUsed", "hash", "number", "timestamp"}

	transactionFields = []string{"blockHash", "blockNumber", "from", "gas", "gasPrice", "hash",
		"input", "nonce", "to", "transactionIndex", "value"}

	receiptFields = []string{"blockHash", "blockNumber", "contractAddress", "cumulativeGasUsed",
		"gasUsed", "logs", "status", "transactionHash", "transactionIndex"}
)

// prune keeps the whitelisted fields of obj. A nil object stays nil.
func prune(obj map[string]interface{}, fields []string) map[string]interface{} {
	if obj == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for _, key := range fields {
		out[key] = obj[key]
	}
	return out
}
