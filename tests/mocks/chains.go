package mocks

import (
	"context"
	"math/big"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenswallet/wallet-backend/internal/wallet/substrate"
)

// MockEthClient is an Ethereum chain client with a fixed balance and call counters.
type MockEthClient struct {
	mu sync.Mutex

	Balance *big.Int
	BaseFee *big.Int
	TxHash  string // returned by SendRawTransaction instead of the real hash when set
	SendErr error

	BalanceCalls int
	SendCalls    int
	Sent         []*ethtypes.Transaction
}

// NewMockEthClient creates a client reporting balance wei for every address.
func NewMockEthClient(balance *big.Int) *MockEthClient {
	return &MockEthClient{Balance: balance, BaseFee: big.NewInt(1_000_000_000)}
}

func (c *MockEthClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(8882), nil
}

func (c *MockEthClient) GetBalance(context.Context, common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BalanceCalls++
	return new(big.Int).Set(c.Balance), nil
}

func (c *MockEthClient) GetNonce(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

func (c *MockEthClient) EstimateGas(context.Context, common.Address, common.Address, *big.Int) (uint64, error) {
	return 25_200, nil
}

func (c *MockEthClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (c *MockEthClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (c *MockEthClient) LatestBaseFee(context.Context) (*big.Int, error) {
	return c.BaseFee, nil
}

func (c *MockEthClient) SendRawTransaction(_ context.Context, tx *ethtypes.Transaction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendCalls++
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, tx)
	if c.TxHash != "" {
		return c.TxHash, nil
	}
	return tx.Hash().Hex(), nil
}

func (c *MockEthClient) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

// Counts returns the balance and send call counts.
func (c *MockEthClient) Counts() (balance, send int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BalanceCalls, c.SendCalls
}

// MockSubstrateNode is a Substrate node exposing the native balance transfer.
type MockSubstrateNode struct {
	mu sync.Mutex

	Decimals  int32
	Balance   *big.Int
	SubmitErr error

	SubmitCalls  int
	HasCallCalls int
	ReadCalls    int // Properties, FreeBalance and EstimateFee
}

// NewMockSubstrateNode creates a node with 12 decimals and zero balances.
func NewMockSubstrateNode() *MockSubstrateNode {
	return &MockSubstrateNode{Decimals: 12, Balance: big.NewInt(0)}
}

// NodeCalls counts every request made to the node
func (n *MockSubstrateNode) NodeCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.SubmitCalls + n.HasCallCalls + n.ReadCalls
}

func (n *MockSubstrateNode) HasCall(_ context.Context, call string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.HasCallCalls++
	return call == "Balances.transfer_allow_death", nil
}

func (n *MockSubstrateNode) Properties(context.Context) (*substrate.ChainProperties, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ReadCalls++
	return &substrate.ChainProperties{Decimals: n.Decimals, TokenSymbol: "UNIT"}, nil
}

func (n *MockSubstrateNode) FreeBalance(context.Context, []byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ReadCalls++
	return new(big.Int).Set(n.Balance), nil
}

func (n *MockSubstrateNode) EstimateFee(context.Context, signature.KeyringPair, substrate.TransferCall) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ReadCalls++
	return big.NewInt(0), nil
}

func (n *MockSubstrateNode) SubmitAndWait(context.Context, signature.KeyringPair, substrate.TransferCall) (*substrate.Inclusion, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.SubmitCalls++
	if n.SubmitErr != nil {
		return nil, n.SubmitErr
	}
	return &substrate.Inclusion{ExtrinsicHash: "0xe1", BlockHash: "0xb1"}, nil
}
