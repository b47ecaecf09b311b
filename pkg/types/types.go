package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chain identifies a wallet backend family
type Chain string

// Chain constants
const (
	ChainEthereum  Chain = "ethereum"
	ChainSubstrate Chain = "substrate"
)

// AllChains returns every supported chain
func AllChains() []Chain {
	return []Chain{ChainEthereum, ChainSubstrate}
}

// ParseChain parses a chain name, case-insensitively
func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(strings.TrimSpace(s))) {
	case ChainEthereum:
		return ChainEthereum, nil
	case ChainSubstrate:
		return ChainSubstrate, nil
	default:
		return "", fmt.Errorf("unsupported chain: %q", s)
	}
}

func (c Chain) String() string {
	return string(c)
}

// Account is the user record owned by the account store.
// An address field is set only after the wallet was generated and its
// secret was written to the secret store.
type Account struct {
	ID               uuid.UUID
	Email            string
	PasswordHash     *string
	GoogleID         *string
	DisplayName      *string
	EthereumAddress  *string
	SubstrateAddress *string
	CreatedAt        time.Time
}

// Address returns the account's address for chain, or "" when not provisioned
func (a *Account) Address(chain Chain) string {
	var addr *string
	switch chain {
	case ChainEthereum:
		addr = a.EthereumAddress
	case ChainSubstrate:
		addr = a.SubstrateAddress
	}
	if addr == nil {
		return ""
	}
	return *addr
}

// SetAddress records the provisioned address for chain
func (a *Account) SetAddress(chain Chain, address string) {
	switch chain {
	case ChainEthereum:
		a.EthereumAddress = &address
	case ChainSubstrate:
		a.SubstrateAddress = &address
	}
}

// PublicKey returns the unified public key shown to clients:
// the Substrate address when present, otherwise the Ethereum address.
func (a *Account) PublicKey() *string {
	if a.SubstrateAddress != nil {
		return a.SubstrateAddress
	}
	return a.EthereumAddress
}

// TransferRequest is a validated-before-use request to move funds
type TransferRequest struct {
	UserID    uuid.UUID
	Chain     Chain
	ToAddress string
	Amount    string // decimal, human units
	AssetID   *string
}

// TransactionReceipt is recorded once a transfer was submitted. Immutable.
type TransactionReceipt struct {
	ID          uuid.UUID `json:"id"`
	Chain       Chain     `json:"chain"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
	Amount      string    `json:"amount"`
	AssetID     *string   `json:"assetId,omitempty"`
	TxHash      string    `json:"txHash"`
	BlockHash   *string   `json:"blockHash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
