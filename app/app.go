package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

// Application implements the ABCI interface for the event ledger. Every
// transaction carries the events of one committed lifecycle operation.
type Application struct {
	abcitypes.BaseApplication

	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	nodeID       string
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool // Whether to log every stored transaction
}

// NewABCIApplication creates a new application
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger) *Application {
	return &Application{
		badgerDB: badgerDB,
		nodeID:   config.NodeID,
		config:   config,
		logger:   logger,
	}
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

func (app *Application) NodeID() string {
	return app.nodeID
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("last_block_height"))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		err = item.Value(func(val []byte) error {
			if len(val) == 8 {
				lastBlockHeight = int64(binary.BigEndian.Uint64(val))
			}
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte("last_block_app_hash"))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			lastBlockAppHash, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. Supported queries are
// "verify:<txID>", "stream:<bordereau id>" and raw key lookups.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if len(req.Data) == 0 {
		return &abcitypes.QueryResponse{
			Code: 1,
			Log:  "Empty query data",
		}, nil
	}

	if txID, ok := bytes.CutPrefix(req.Data, []byte("verify:")); ok {
		return app.verifyTransaction(txID)
	}
	if streamID, ok := bytes.CutPrefix(req.Data, []byte("stream:")); ok {
		return app.queryStream(string(streamID))
	}

	resp := abcitypes.QueryResponse{Key: req.Data}
	dbErr := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(req.Data)
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			resp.Log = "key doesn't exist"
			return nil
		}
		return item.Value(func(val []byte) error {
			resp.Log = "exists"
			resp.Value = append([]byte{}, val...)
			return nil
		})
	})
	if dbErr != nil {
		app.logger.Error("Error reading database, unable to execute query", "err", dbErr)
		return &abcitypes.QueryResponse{
			Code: 2,
			Log:  fmt.Sprintf("Database error: %v", dbErr),
		}, nil
	}

	return &resp, nil
}

// verifyTransaction looks up a transaction and its ledger status
func (app *Application) verifyTransaction(txID []byte) (*abcitypes.QueryResponse, error) {
	var resp abcitypes.QueryResponse

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte("tx:"), txID...))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				resp.Log = "Transaction not found"
				resp.Code = 1
				return nil
			}
			return err
		}
		txData, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		status := "unknown"
		item, err = txn.Get(append([]byte("status:"), txID...))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			status = string(val)
		}

		resp.Value = txData
		resp.Log = status
		resp.Code = 0
		return nil
	})
	if err != nil {
		resp.Code = 2
		resp.Log = fmt.Sprintf("Database error: %v", err)
	}

	return &resp, nil
}

// queryStream returns the recorded events of one bordereau as a JSON array.
func (app *Application) queryStream(streamID string) (*abcitypes.QueryResponse, error) {
	events := []json.RawMessage{}
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := streamPrefix(streamID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			events = append(events, val)
		}
		return nil
	})
	if err != nil {
		return &abcitypes.QueryResponse{Code: 2, Log: fmt.Sprintf("Database error: %v", err)}, nil
	}
	value, err := json.Marshal(events)
	if err != nil {
		return &abcitypes.QueryResponse{Code: 2, Log: err.Error()}, nil
	}
	return &abcitypes.QueryResponse{
		Key:   []byte(streamID),
		Value: value,
		Log:   strconv.Itoa(len(events)) + " events",
	}, nil
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	if _, err := decodeTx(check.Tx); err != nil {
		return &abcitypes.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	return &abcitypes.CheckTxResponse{Code: 0}, nil
}

// ProcessProposal rejects blocks carrying malformed event batches.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for _, txBytes := range proposal.Txs {
		if _, err := decodeTx(txBytes); err != nil {
			app.logger.Info("Voted invalid", "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	app.onGoingBlock = app.badgerDB.NewTransaction(true)

	for i, txBytes := range req.Txs {
		tx, err := decodeTx(txBytes)
		if err != nil {
			txResults[i] = &abcitypes.ExecTxResult{
				Code: 1,
				Log:  "Invalid transaction format",
			}
			continue
		}
		txResults[i] = app.storeTransaction(TxID(txBytes), tx, "accepted", txBytes)
	}

	appHash := calculateAppHash(txResults)

	err := app.onGoingBlock.Set([]byte("last_block_height"), binary.BigEndian.AppendUint64(nil, uint64(req.Height)))
	if err != nil {
		app.logger.Error("Error storing block height", "err", err)
		return nil, err
	}
	err = app.onGoingBlock.Set([]byte("last_block_app_hash"), appHash)
	if err != nil {
		app.logger.Error("Error storing app hash", "err", err)
		return nil, err
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.onGoingBlock == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	if err := app.onGoingBlock.Commit(); err != nil {
		app.logger.Error("Error committing block", "err", err)
		return nil, err
	}
	app.onGoingBlock = nil
	return &abcitypes.CommitResponse{}, nil
}

// storeTransaction stores the batch and indexes each event under its stream
func (app *Application) storeTransaction(txID string, tx *LedgerTx, status string, rawTx []byte) *abcitypes.ExecTxResult {
	if err := app.onGoingBlock.Set([]byte("tx:"+txID), rawTx); err != nil {
		app.logger.Error("Error storing transaction", "err", err)
		return &abcitypes.ExecTxResult{
			Code: 3,
			Log:  fmt.Sprintf("Database error: %v", err),
		}
	}
	if err := app.onGoingBlock.Set([]byte("status:"+txID), []byte(status)); err != nil {
		app.logger.Error("Error storing transaction status", "err", err)
	}

	events := []abcitypes.Event{
		{
			Type: "bsd_tx",
			Attributes: []abcitypes.EventAttribute{
				{Key: "tx_id", Value: txID, Index: true},
				{Key: "origin_node", Value: tx.OriginNodeID, Index: true},
				{Key: "status", Value: status, Index: true},
			},
		},
	}
	for _, e := range tx.Events {
		raw, err := json.Marshal(e)
		if err != nil {
			return &abcitypes.ExecTxResult{Code: 3, Log: err.Error()}
		}
		if err := app.onGoingBlock.Set(eventKey(e.StreamID, e.ID), raw); err != nil {
			app.logger.Error("Error storing event", "stream", e.StreamID, "err", err)
			return &abcitypes.ExecTxResult{
				Code: 3,
				Log:  fmt.Sprintf("Database error: %v", err),
			}
		}
		events = append(events, abcitypes.Event{
			Type: "bsd_event",
			Attributes: []abcitypes.EventAttribute{
				{Key: "stream_id", Value: e.StreamID, Index: true},
				{Key: "type", Value: e.Type, Index: true},
			},
		})
	}
	if app.config.LogAllTxs {
		app.logger.Info("Stored ledger transaction", "tx_id", txID, "events", len(tx.Events))
	}

	return &abcitypes.ExecTxResult{
		Code:   0,
		Data:   []byte(txID),
		Log:    status,
		Events: events,
	}
}

// calculateAppHash calculates the application hash for the current block
func calculateAppHash(txResults []*abcitypes.ExecTxResult) []byte {
	allData := make([]byte, 0)
	for _, result := range txResults {
		allData = append(allData, result.Data...)
	}
	hash := sha256.Sum256(allData)
	return hash[:]
}
