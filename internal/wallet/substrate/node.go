package substrate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
)

// TransferCall is a transfer to be encoded against the chain's metadata
type TransferCall struct {
	Mechanism Mechanism
	Call      string
	Recipient *Recipient
	Amount    *big.Int // base units
	AssetID   string   // currency id (multi-asset) or collection id (custom pallet)
}

// ChainProperties are the token properties a node reports
type ChainProperties struct {
	Decimals    int32
	TokenSymbol string
	SS58Format  *uint16
}

// Inclusion is an extrinsic observed in a block without a dispatch error
type Inclusion struct {
	ExtrinsicHash string
	BlockHash     string
}

// DispatchError is returned when the extrinsic was included but the runtime
// rejected it, or the pool refused it as invalid.
type DispatchError struct {
	Reason string
}

func (e *DispatchError) Error() string {
	return "dispatch error: " + e.Reason
}

// SubmissionUnknownError is returned when the extrinsic may already be in the
// pool or a block but its outcome was not observed. Resubmitting the same
// transfer can pay twice.
type SubmissionUnknownError struct {
	ExtrinsicHash string
	Err           error
}

func (e *SubmissionUnknownError) Error() string {
	return fmt.Sprintf("outcome of extrinsic %s unknown: %v", e.ExtrinsicHash, e.Err)
}

func (e *SubmissionUnknownError) Unwrap() error {
	return e.Err
}

// Node is the shared connection to a Substrate node. Implementations must be
// safe for concurrent use.
type Node interface {
	CallLookup

	Properties(ctx context.Context) (*ChainProperties, error)
	FreeBalance(ctx context.Context, accountID []byte) (*big.Int, error)

	// EstimateFee returns the partial fee of the signed transfer
	EstimateFee(ctx context.Context, pair signature.KeyringPair, call TransferCall) (*big.Int, error)

	// SubmitAndWait signs and submits the transfer and blocks until it is
	// included in a block or ctx is done.
	SubmitAndWait(ctx context.Context, pair signature.KeyringPair, call TransferCall) (*Inclusion, error)
}
