package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
)

// Broadcaster is the part of the CometBFT RPC client the publisher needs.
// The node-local client satisfies it.
type Broadcaster interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
}

// LedgerPublisher writes committed lifecycle events to the CometBFT ledger.
type LedgerPublisher struct {
	client  Broadcaster
	nodeID  func() string
	timeout time.Duration
	logger  cmtlog.Logger
}

func NewLedgerPublisher(client Broadcaster, nodeID func() string, timeout time.Duration, logger cmtlog.Logger) *LedgerPublisher {
	return &LedgerPublisher{client: client, nodeID: nodeID, timeout: timeout, logger: logger}
}

// Publish broadcasts the events as one transaction and waits for it to be
// committed. It returns the transaction hash.
func (p *LedgerPublisher) Publish(ctx context.Context, events []models.Event) (string, error) {
	payload, err := json.Marshal(NewLedgerTx(p.nodeID(), events))
	if err != nil {
		return "", fmt.Errorf("serializing ledger tx: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// Use a channel to detect both context deadline and RPC completion
	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := p.client.BroadcastTxCommit(ctx, cmttypes.Tx(payload))
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("ledger publication timed out: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("broadcasting ledger tx: %w", res.err)
		}
		if res.result.CheckTx.Code != 0 {
			return "", fmt.Errorf("ledger rejected transaction: CheckTx code %d: %s", res.result.CheckTx.Code, res.result.CheckTx.Log)
		}
		if res.result.TxResult.Code != 0 {
			return "", fmt.Errorf("ledger failed to store transaction: code %d: %s", res.result.TxResult.Code, res.result.TxResult.Log)
		}
		txHash := hex.EncodeToString(res.result.Hash)
		p.logger.Info("Events published", "tx_hash", txHash, "height", res.result.Height, "events", len(events))
		return txHash, nil
	}
}

// LogPublisher only logs committed events. It is used when no ledger node runs.
type LogPublisher struct {
	logger cmtlog.Logger
}

func NewLogPublisher(logger cmtlog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, events []models.Event) (string, error) {
	for _, e := range events {
		p.logger.Info("Event", "bsd", e.StreamID, "type", e.Type, "actor", e.ActorID)
	}
	return "", nil
}
