package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	gethrpc "github.com/centrifuge/go-substrate-rpc-client/v4/gethrpc"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestParseBigJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"125000000"`, "125000000"},
		{`125000000`, "125000000"},
		{`"0x10"`, "16"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := parseBigJSON(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}

	_, err := parseBigJSON(json.RawMessage(`"abc"`))
	assert.Error(t, err)
}

func TestFirstOf(t *testing.T) {
	var decimals []int32
	require.True(t, firstOf(json.RawMessage(`[18, 12]`), &decimals))
	assert.Equal(t, []int32{18, 12}, decimals)

	decimals = nil
	require.True(t, firstOf(json.RawMessage(`10`), &decimals))
	assert.Equal(t, []int32{10}, decimals)

	var symbols []string
	require.True(t, firstOf(json.RawMessage(`"DOT"`), &symbols))
	assert.Equal(t, []string{"DOT"}, symbols)

	assert.False(t, firstOf(json.RawMessage(`null`), &symbols))
	assert.False(t, firstOf(nil, &symbols))
}

func TestCollectionID(t *testing.T) {
	id, err := collectionID("")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = collectionID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	_, err = collectionID("abc")
	assert.Error(t, err)
}

func TestCurrencyID(t *testing.T) {
	v, err := currencyID("0x0102")
	require.NoError(t, err)
	assert.Equal(t, rawBytes{0x01, 0x02}, v)

	_, err = currencyID("0xzz")
	assert.Error(t, err)
}

func TestWithContext(t *testing.T) {
	err := withContext(context.Background(), func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	err = withContext(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignCall_Hash(t *testing.T) {
	call := types.Call{
		CallIndex: types.CallIndex{SectionIndex: 5, MethodIndex: 0},
		Args:      types.Args{0x00, 0x01, 0x02},
	}
	rv := &types.RuntimeVersion{SpecVersion: 100, TransactionVersion: 1}
	genesis := types.NewHash(make([]byte, 32))

	ext, err := signCall(call, signature.TestKeyringPairAlice, genesis, rv, 7)
	require.NoError(t, err)
	assert.True(t, ext.IsSigned())

	hash, err := extrinsicHash(ext)
	require.NoError(t, err)

	encoded, err := codec.Encode(*ext)
	require.NoError(t, err)
	want := blake2b.Sum256(encoded)
	assert.Equal(t, types.NewHash(want[:]), hash)

	again, err := extrinsicHash(ext)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	other, err := signCall(call, signature.TestKeyringPairAlice, genesis, rv, 8)
	require.NoError(t, err)
	otherHash, err := extrinsicHash(other)
	require.NoError(t, err)
	assert.NotEqual(t, hash, otherHash)
}

// fakeClient records Close and fails every call
type fakeClient struct {
	closed int
}

func (c *fakeClient) Call(interface{}, string, ...interface{}) error {
	return errors.New("websocket: close 1006")
}

func (c *fakeClient) CallContext(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("websocket: close 1006")
}

func (c *fakeClient) Subscribe(context.Context, string, string, string, string, interface{}, ...interface{}) (*gethrpc.ClientSubscription, error) {
	return nil, errors.New("websocket: close 1006")
}

func (c *fakeClient) URL() string { return "ws://node.invalid" }

func (c *fakeClient) Close() { c.closed++ }

type rpcCodeError struct{}

func (rpcCodeError) Error() string  { return "1010: Invalid Transaction" }
func (rpcCodeError) ErrorCode() int { return 1010 }

func connectedNode(client *fakeClient) (*RPCNode, *connection) {
	n := NewRPCNode("ws://node.invalid")
	n.api = &gsrpc.SubstrateAPI{Client: client}
	n.meta = &types.Metadata{}
	return n, &connection{api: n.api, meta: n.meta}
}

func TestRPCNode_ReleaseDropsBrokenConnection(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		dropped bool
	}{
		{"socket closed", errors.New("websocket: close 1006"), true},
		{"wrapped timeout", fmt.Errorf("get account info: %w", context.DeadlineExceeded), true},
		{"node rejection", fmt.Errorf("submit: %w", rpcCodeError{}), false},
		{"caller cancelled", context.Canceled, false},
		{"no error", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			n, conn := connectedNode(client)

			n.release(conn, tt.err)

			if tt.dropped {
				assert.Nil(t, n.api)
				assert.Nil(t, n.meta)
				assert.Equal(t, 1, client.closed)
			} else {
				assert.Same(t, conn.api, n.api)
				assert.Zero(t, client.closed)
			}
		})
	}
}

func TestRPCNode_ReleaseKeepsNewerConnection(t *testing.T) {
	n, stale := connectedNode(&fakeClient{})
	current := &fakeClient{}
	n.api = &gsrpc.SubstrateAPI{Client: current}

	n.release(stale, errors.New("websocket: close 1006"))

	require.NotNil(t, n.api)
	assert.Zero(t, current.closed)
}

func TestRPCNode_PropertiesFailureReconnects(t *testing.T) {
	client := &fakeClient{}
	n, _ := connectedNode(client)

	_, err := n.Properties(context.Background())
	require.Error(t, err)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Nil(t, n.api, "next call must dial again")
	assert.Equal(t, 1, client.closed)
}
