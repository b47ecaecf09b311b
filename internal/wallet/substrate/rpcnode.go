package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/retriever"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/author"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"

	"github.com/tokenswallet/wallet-backend/internal/logger"
)

const eventExtrinsicFailed = "System.ExtrinsicFailed"

// RPCNode is a Node backed by a websocket connection to a Substrate node.
// The connection is opened on first use and shared afterwards.
type RPCNode struct {
	url string

	mu      sync.Mutex
	api     *gsrpc.SubstrateAPI
	meta    *types.Metadata
	genesis types.Hash
	events  retriever.EventRetriever

	// submissions from one account are serialized so nonces do not collide
	accountLocks sync.Map
}

// NewRPCNode creates a node client for url (ws:// or wss://)
func NewRPCNode(url string) *RPCNode {
	return &RPCNode{url: url}
}

type connection struct {
	api     *gsrpc.SubstrateAPI
	meta    *types.Metadata
	genesis types.Hash
	events  retriever.EventRetriever
}

func (n *RPCNode) connect(ctx context.Context) (*connection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.api != nil {
		return &connection{api: n.api, meta: n.meta, genesis: n.genesis, events: n.events}, nil
	}

	var conn connection
	err := withContext(ctx, func() error {
		api, err := gsrpc.NewSubstrateAPI(n.url)
		if err != nil {
			return fmt.Errorf("connect %s: %w", n.url, err)
		}
		meta, err := api.RPC.State.GetMetadataLatest()
		if err != nil {
			return fmt.Errorf("get metadata: %w", err)
		}
		genesis, err := api.RPC.Chain.GetBlockHash(0)
		if err != nil {
			return fmt.Errorf("get genesis hash: %w", err)
		}
		events, err := retriever.NewDefaultEventRetriever(state.NewEventProvider(api.RPC.State), api.RPC.State)
		if err != nil {
			return fmt.Errorf("create event retriever: %w", err)
		}
		conn = connection{api: api, meta: meta, genesis: genesis, events: events}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.api, n.meta, n.genesis, n.events = conn.api, conn.meta, conn.genesis, conn.events
	logger.Info(ctx, "connected to substrate node", "url", n.url)
	return &conn, nil
}

// Close drops the shared connection. The next call reconnects.
func (n *RPCNode) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
}

func (n *RPCNode) closeLocked() {
	if n.api == nil {
		return
	}
	if n.api.Client != nil {
		n.api.Client.Close()
	}
	n.api, n.meta, n.events = nil, nil, nil
}

// release drops conn after a connection-level failure so the next call
// dials again. Node rejections and caller cancellation leave it in place.
// A connection that was already replaced is not touched.
func (n *RPCNode) release(conn *connection, err error) {
	if err == nil || isRPCRejection(err) || errors.Is(err, context.Canceled) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.api == nil || n.api != conn.api {
		return
	}
	n.closeLocked()
	logger.Warn(context.Background(), "dropped substrate connection", "url", n.url, "error", err)
}

// HasCall reports whether the runtime metadata contains call ("Pallet.call")
func (n *RPCNode) HasCall(ctx context.Context, call string) (bool, error) {
	conn, err := n.connect(ctx)
	if err != nil {
		return false, err
	}
	_, err = conn.meta.FindCallIndex(call)
	return err == nil, nil
}

// Properties reads system_properties
func (n *RPCNode) Properties(ctx context.Context) (*ChainProperties, error) {
	conn, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}

	var raw struct {
		SS58Format    *uint16         `json:"ss58Format"`
		TokenDecimals json.RawMessage `json:"tokenDecimals"`
		TokenSymbol   json.RawMessage `json:"tokenSymbol"`
	}
	err = withContext(ctx, func() error {
		return conn.api.Client.Call(&raw, "system_properties")
	})
	if err != nil {
		n.release(conn, err)
		return nil, fmt.Errorf("system_properties: %w", err)
	}

	props := &ChainProperties{SS58Format: raw.SS58Format}
	var decimals []int32
	if firstOf(raw.TokenDecimals, &decimals) && len(decimals) > 0 {
		props.Decimals = decimals[0]
	}
	var symbols []string
	if firstOf(raw.TokenSymbol, &symbols) && len(symbols) > 0 {
		props.TokenSymbol = symbols[0]
	}
	return props, nil
}

// FreeBalance reads System.Account for accountID. Unknown accounts have zero balance.
func (n *RPCNode) FreeBalance(ctx context.Context, accountID []byte) (*big.Int, error) {
	conn, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}

	key, err := types.CreateStorageKey(conn.meta, "System", "Account", accountID)
	if err != nil {
		return nil, fmt.Errorf("create storage key: %w", err)
	}

	var info types.AccountInfo
	var found bool
	err = withContext(ctx, func() error {
		var err error
		found, err = conn.api.RPC.State.GetStorageLatest(key, &info)
		return err
	})
	if err != nil {
		n.release(conn, err)
		return nil, fmt.Errorf("get account info: %w", err)
	}
	if !found || info.Data.Free.Int == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(info.Data.Free.Int), nil
}

// EstimateFee signs the transfer and queries payment_queryInfo
func (n *RPCNode) EstimateFee(ctx context.Context, pair signature.KeyringPair, call TransferCall) (*big.Int, error) {
	conn, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	ext, err := n.signedExtrinsic(ctx, conn, pair, call)
	if err != nil {
		n.release(conn, err)
		return nil, err
	}
	encoded, err := codec.EncodeToHex(ext)
	if err != nil {
		return nil, fmt.Errorf("encode extrinsic: %w", err)
	}

	var info struct {
		PartialFee json.RawMessage `json:"partialFee"`
	}
	err = withContext(ctx, func() error {
		return conn.api.Client.Call(&info, "payment_queryInfo", encoded)
	})
	if err != nil {
		n.release(conn, err)
		return nil, fmt.Errorf("payment_queryInfo: %w", err)
	}
	return parseBigJSON(info.PartialFee)
}

// SubmitAndWait submits the signed transfer and waits for block inclusion,
// then checks the block's events for a dispatch failure of this extrinsic.
// Once the extrinsic may have reached the node, failures are reported as
// *SubmissionUnknownError.
func (n *RPCNode) SubmitAndWait(ctx context.Context, pair signature.KeyringPair, call TransferCall) (*Inclusion, error) {
	conn, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}

	lock := n.accountLock(pair.Address)
	lock.Lock()
	ext, err := n.signedExtrinsic(ctx, conn, pair, call)
	if err != nil {
		lock.Unlock()
		n.release(conn, err)
		return nil, err
	}
	extHash, err := extrinsicHash(ext)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var sub *author.ExtrinsicStatusSubscription
	err = withContext(ctx, func() error {
		var err error
		sub, err = conn.api.RPC.Author.SubmitAndWatchExtrinsic(*ext)
		return err
	})
	lock.Unlock()
	switch {
	case err == nil:
	case isRPCRejection(err):
		return nil, &DispatchError{Reason: err.Error()}
	case ctx.Err() != nil:
		// the submit call is still running in the background
		return nil, &SubmissionUnknownError{ExtrinsicHash: extHash.Hex(), Err: err}
	default:
		n.release(conn, err)
		return nil, fmt.Errorf("submit extrinsic: %w", err)
	}
	defer sub.Unsubscribe()

	logger.Info(ctx, "substrate extrinsic submitted", "extrinsic_hash", extHash.Hex(), "call", call.Call)

	for {
		select {
		case <-ctx.Done():
			return nil, &SubmissionUnknownError{ExtrinsicHash: extHash.Hex(), Err: ctx.Err()}
		case err := <-sub.Err():
			n.release(conn, err)
			return nil, &SubmissionUnknownError{ExtrinsicHash: extHash.Hex(), Err: err}
		case status := <-sub.Chan():
			switch {
			case status.IsInBlock:
				blockHash := status.AsInBlock
				if reason, failed, err := n.dispatchFailure(conn, blockHash, extHash); err != nil {
					n.release(conn, err)
					return nil, &SubmissionUnknownError{ExtrinsicHash: extHash.Hex(), Err: err}
				} else if failed {
					return nil, &DispatchError{Reason: reason}
				}
				return &Inclusion{ExtrinsicHash: extHash.Hex(), BlockHash: blockHash.Hex()}, nil
			case status.IsInvalid:
				return nil, &DispatchError{Reason: "extrinsic invalid"}
			case status.IsUsurped:
				return nil, &DispatchError{Reason: "extrinsic usurped by " + status.AsUsurped.Hex()}
			case status.IsDropped:
				return nil, fmt.Errorf("extrinsic %s dropped from pool", extHash.Hex())
			}
		}
	}
}

func (n *RPCNode) accountLock(address string) *sync.Mutex {
	lock, _ := n.accountLocks.LoadOrStore(address, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (n *RPCNode) signedExtrinsic(ctx context.Context, conn *connection, pair signature.KeyringPair, tc TransferCall) (*types.Extrinsic, error) {
	call, err := encodeCall(conn.meta, tc)
	if err != nil {
		return nil, err
	}

	var (
		rv    *types.RuntimeVersion
		nonce uint64
	)
	err = withContext(ctx, func() error {
		var err error
		rv, err = conn.api.RPC.State.GetRuntimeVersionLatest()
		if err != nil {
			return fmt.Errorf("get runtime version: %w", err)
		}
		if err := conn.api.Client.Call(&nonce, "system_accountNextIndex", pair.Address); err != nil {
			return fmt.Errorf("system_accountNextIndex: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return signCall(call, pair, conn.genesis, rv, nonce)
}

// signCall signs call as an immortal extrinsic with no tip
func signCall(call types.Call, pair signature.KeyringPair, genesis types.Hash, rv *types.RuntimeVersion, nonce uint64) (*types.Extrinsic, error) {
	ext := types.NewExtrinsic(call)
	err := ext.Sign(pair, types.SignatureOptions{
		BlockHash:          genesis,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        genesis,
		Nonce:              types.NewUCompactFromUInt(nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("sign extrinsic: %w", err)
	}
	return &ext, nil
}

// dispatchFailure looks for System.ExtrinsicFailed emitted by extHash in block
func (n *RPCNode) dispatchFailure(conn *connection, blockHash, extHash types.Hash) (string, bool, error) {
	block, err := conn.api.RPC.Chain.GetBlock(blockHash)
	if err != nil {
		return "", false, fmt.Errorf("get block %s: %w", blockHash.Hex(), err)
	}

	index := -1
	for i, x := range block.Block.Extrinsics {
		h, err := extrinsicHash(&x)
		if err == nil && h == extHash {
			index = i
			break
		}
	}
	if index < 0 {
		return "", false, fmt.Errorf("extrinsic %s not found in block %s", extHash.Hex(), blockHash.Hex())
	}

	events, err := conn.events.GetEvents(blockHash)
	if err != nil {
		return "", false, fmt.Errorf("get events of %s: %w", blockHash.Hex(), err)
	}
	for _, ev := range events {
		if ev.Phase == nil || !ev.Phase.IsApplyExtrinsic || int(ev.Phase.AsApplyExtrinsic) != index {
			continue
		}
		if ev.Name == eventExtrinsicFailed {
			return fieldsText(ev.Fields), true, nil
		}
	}
	return "", false, nil
}

// encodeCall builds the runtime call for a transfer
func encodeCall(meta *types.Metadata, tc TransferCall) (types.Call, error) {
	amount := types.NewUCompact(tc.Amount)

	switch tc.Mechanism {
	case MechanismNativeBalance:
		dest, err := types.NewMultiAddressFromAccountID(tc.Recipient.AccountID)
		if err != nil {
			return types.Call{}, err
		}
		return types.NewCall(meta, tc.Call, dest, amount)

	case MechanismMultiAsset:
		dest, err := types.NewMultiAddressFromAccountID(tc.Recipient.AccountID)
		if err != nil {
			return types.Call{}, err
		}
		currency, err := currencyID(tc.AssetID)
		if err != nil {
			return types.Call{}, err
		}
		return types.NewCall(meta, tc.Call, dest, currency, amount)

	case MechanismCustomPallet:
		collection, err := collectionID(tc.AssetID)
		if err != nil {
			return types.Call{}, err
		}
		return types.NewCall(meta, tc.Call,
			crossAccountID{family: tc.Recipient.Family, id: tc.Recipient.AccountID},
			types.NewU32(collection),
			types.NewU32(0),
			types.NewU128(*tc.Amount),
		)
	}
	return types.Call{}, fmt.Errorf("no transfer call for mechanism %s", tc.Mechanism)
}

// crossAccountID encodes the two-variant recipient enum:
// 0 = native AccountId32, 1 = Ethereum H160.
type crossAccountID struct {
	family AddressFamily
	id     []byte
}

func (c crossAccountID) Encode(encoder scale.Encoder) error {
	variant := byte(0)
	if c.family == FamilyEthereum {
		variant = 1
	}
	if err := encoder.PushByte(variant); err != nil {
		return err
	}
	return encoder.Write(c.id)
}

// rawBytes is written without a length prefix
type rawBytes []byte

func (r rawBytes) Encode(encoder scale.Encoder) error {
	return encoder.Write(r)
}

// currencyID encodes a 0x-prefixed value as raw SCALE bytes, anything else as a SCALE string
func currencyID(id string) (interface{}, error) {
	if strings.HasPrefix(id, "0x") {
		raw, err := hex.DecodeString(id[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid currency id %q: %w", id, err)
		}
		return rawBytes(raw), nil
	}
	return types.NewText(id), nil
}

func collectionID(id string) (uint32, error) {
	if id == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid collection id %q: %w", id, err)
	}
	return uint32(v), nil
}

func extrinsicHash(ext *types.Extrinsic) (types.Hash, error) {
	encoded, err := codec.Encode(ext)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode extrinsic: %w", err)
	}
	sum := blake2b.Sum256(encoded)
	return types.NewHash(sum[:]), nil
}

// fieldsText renders decoded event fields as "name: value" pairs
func fieldsText(fields registry.DecodedFields) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == nil {
			continue
		}
		value := fmt.Sprintf("%v", f.Value)
		if nested, ok := f.Value.(registry.DecodedFields); ok {
			value = "{" + fieldsText(nested) + "}"
		}
		if f.Name == "" {
			parts = append(parts, value)
			continue
		}
		parts = append(parts, f.Name+": "+value)
	}
	return strings.Join(parts, ", ")
}

// firstOf decodes a JSON value that may be a scalar or an array of scalars
func firstOf[T any](raw json.RawMessage, out *[]T) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, out); err == nil {
		return true
	}
	var single T
	if err := json.Unmarshal(raw, &single); err != nil {
		return false
	}
	*out = []T{single}
	return true
}

// parseBigJSON parses a JSON number, decimal string or 0x hex string
func parseBigJSON(raw json.RawMessage) (*big.Int, error) {
	s := strings.Trim(string(raw), `"`)
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid fee value %s", string(raw))
	}
	return v, nil
}

// withContext runs fn and returns early if ctx is done first. The RPC client
// has no context support, so fn keeps running in the background in that case.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRPCRejection reports a JSON-RPC error returned by the node, e.g.
// "1010: Invalid Transaction".
func isRPCRejection(err error) bool {
	var rpcErr interface{ ErrorCode() int }
	return errors.As(err, &rpcErr)
}

var _ Node = (*RPCNode)(nil)
