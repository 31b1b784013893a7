package params

import (
	"fmt"
	"math/big"
)

// ProtocolTag marks every bridge envelope; messages without it are ignored.
const ProtocolTag = "v\x01\n"

// DefaultGasLimit is used for drafts that do not carry a gas limit.
const DefaultGasLimit uint64 = 300000

// Network describes the chain the shell is attached to. Name is what
// sandboxed applications see from getNetwork.
type Network struct {
	Name    string
	ChainID *big.Int
	Testnet bool
}

var (
	MainnetNetwork = Network{Name: "homestead", ChainID: big.NewInt(1)}
	TestnetNetwork = Network{Name: "morden", ChainID: big.NewInt(11155111), Testnet: true}
)

// LookupNetwork resolves a configured network name. A non-zero chainID
// overrides the default id of the named network.
func LookupNetwork(name string, chainID uint64) (Network, error) {
	var n Network
	switch name {
	case "", MainnetNetwork.Name, "mainnet":
		n = MainnetNetwork
	case TestnetNetwork.Name, "testnet":
		n = TestnetNetwork
	default:
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
	if chainID != 0 {
		n.ChainID = new(big.Int).SetUint64(chainID)
	}
	return n, nil
}

func (n Network) String() string {
	return fmt.Sprintf("%s(%v)", n.Name, n.ChainID)
}
