package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewABCIApplication(db, &AppConfig{NodeID: "node-0"}, cmtlog.NewNopLogger())
}

func sampleEvents() []models.Event {
	at := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
	return []models.Event{
		{ID: 1, StreamID: "BSD-20240314-AAAAAAAAA", Type: "BsdCreated", ActorID: "user-1", Data: []byte(`{"status":"DRAFT"}`), CreatedAt: at},
		{ID: 2, StreamID: "BSD-20240314-AAAAAAAAA", Type: "BsdSealed", ActorID: "user-1", Data: []byte(`{"status":"SEALED"}`), CreatedAt: at},
		{ID: 3, StreamID: "BSD-20240314-BBBBBBBBB", Type: "BsdCreated", ActorID: "user-2", Data: []byte(`{}`), CreatedAt: at},
	}
}

func encodeTx(t *testing.T, events []models.Event) []byte {
	t.Helper()
	raw, err := json.Marshal(NewLedgerTx("node-0", events))
	require.NoError(t, err)
	return raw
}

func commitBlock(t *testing.T, app *Application, height int64, txs ...[]byte) *abcitypes.FinalizeBlockResponse {
	t.Helper()
	ctx := context.Background()
	res, err := app.FinalizeBlock(ctx, &abcitypes.FinalizeBlockRequest{Height: height, Txs: txs})
	require.NoError(t, err)
	_, err = app.Commit(ctx, &abcitypes.CommitRequest{})
	require.NoError(t, err)
	return res
}

func TestCheckTx(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	res, err := app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: encodeTx(t, sampleEvents())})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.Code)

	for name, tx := range map[string][]byte{
		"not json":    []byte("hello"),
		"empty batch": encodeTx(t, nil),
		"no stream":   encodeTx(t, []models.Event{{ID: 4, Type: "BsdCreated"}}),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: tx})
			require.NoError(t, err)
			assert.Equal(t, uint32(1), res.Code)
		})
	}
}

func TestProcessProposalRejectsMalformedBatches(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	res, err := app.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{encodeTx(t, sampleEvents())}})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT, res.Status)

	res, err = app.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{encodeTx(t, sampleEvents()), []byte("{}")}})
	require.NoError(t, err)
	assert.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_REJECT, res.Status)
}

func TestFinalizeBlockStoresAndIndexesEvents(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tx := encodeTx(t, sampleEvents())

	res := commitBlock(t, app, 7, tx, []byte("garbage"))
	require.Len(t, res.TxResults, 2)
	assert.Equal(t, uint32(0), res.TxResults[0].Code)
	assert.Equal(t, uint32(1), res.TxResults[1].Code)
	assert.Len(t, res.TxResults[0].Events, 4)

	info, err := app.Info(ctx, &abcitypes.InfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.LastBlockHeight)
	assert.Equal(t, res.AppHash, info.LastBlockAppHash)

	verify, err := app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("verify:" + TxID(tx))})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), verify.Code)
	assert.Equal(t, "accepted", verify.Log)
	assert.Equal(t, tx, verify.Value)

	stream, err := app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("stream:BSD-20240314-AAAAAAAAA")})
	require.NoError(t, err)
	var events []LedgerEvent
	require.NoError(t, json.Unmarshal(stream.Value, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "BsdCreated", events[0].Type)
	assert.Equal(t, "BsdSealed", events[1].Type)
	assert.JSONEq(t, `{"status":"SEALED"}`, string(events[1].Data))
}

func TestQueryMisses(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	res, err := app.Query(ctx, &abcitypes.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Code)

	res, err = app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("verify:deadbeef")})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Code)

	res, err = app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("stream:BSD-unknown")})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(res.Value))

	res, err = app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("nothing")})
	require.NoError(t, err)
	assert.Equal(t, "key doesn't exist", res.Log)
}

type fakeBroadcaster struct {
	result *cmtrpctypes.ResultBroadcastTxCommit
	err    error
	delay  time.Duration
	got    cmttypes.Tx
}

func (f *fakeBroadcaster) BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error) {
	f.got = tx
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestLedgerPublisher(t *testing.T) {
	ctx := context.Background()
	nodeID := func() string { return "node-0" }

	t.Run("returns the transaction hash", func(t *testing.T) {
		hash := []byte{0xab, 0xcd}
		b := &fakeBroadcaster{result: &cmtrpctypes.ResultBroadcastTxCommit{Hash: hash, Height: 3}}
		p := NewLedgerPublisher(b, nodeID, time.Second, cmtlog.NewNopLogger())

		ref, err := p.Publish(ctx, sampleEvents())
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(hash), ref)

		tx, err := decodeTx(b.got)
		require.NoError(t, err)
		assert.Equal(t, "node-0", tx.OriginNodeID)
		assert.Len(t, tx.Events, 3)
	})

	t.Run("rejected by CheckTx", func(t *testing.T) {
		b := &fakeBroadcaster{result: &cmtrpctypes.ResultBroadcastTxCommit{CheckTx: abcitypes.CheckTxResponse{Code: 1}}}
		p := NewLedgerPublisher(b, nodeID, time.Second, cmtlog.NewNopLogger())
		_, err := p.Publish(ctx, sampleEvents())
		assert.ErrorContains(t, err, "CheckTx code 1")
	})

	t.Run("broadcast error", func(t *testing.T) {
		b := &fakeBroadcaster{err: errors.New("node stopped")}
		p := NewLedgerPublisher(b, nodeID, time.Second, cmtlog.NewNopLogger())
		_, err := p.Publish(ctx, sampleEvents())
		assert.ErrorContains(t, err, "node stopped")
	})

	t.Run("times out", func(t *testing.T) {
		b := &fakeBroadcaster{delay: time.Second, result: &cmtrpctypes.ResultBroadcastTxCommit{}}
		p := NewLedgerPublisher(b, nodeID, 20*time.Millisecond, cmtlog.NewNopLogger())
		_, err := p.Publish(ctx, sampleEvents())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLogPublisherHasNoReference(t *testing.T) {
	ref, err := NewLogPublisher(cmtlog.NewNopLogger()).Publish(context.Background(), sampleEvents())
	require.NoError(t, err)
	assert.Empty(t, ref)
}
