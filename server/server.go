package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/app"
	"github.com/MTES-MCT/trackdechets-sub032/srvreg"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
)

// LedgerClient is the part of the CometBFT RPC API the web server reads
// from. The node-local client satisfies it.
type LedgerClient interface {
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	ABCIInfo(ctx context.Context) (*ctypes.ResultABCIInfo, error)
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
	TxSearch(ctx context.Context, query string, prove bool, page, perPage *int, orderBy string) (*ctypes.ResultTxSearch, error)
}

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr        string
	server          *http.Server
	logger          cmtlog.Logger
	node            *nm.Node // nil when the ledger is disabled
	ledger          LedgerClient
	startTime       time.Time
	serviceRegistry *srvreg.ServiceRegistry
}

// TransactionStatus represents the ledger status of a published event batch
type TransactionStatus struct {
	TxID         string            `json:"tx_id"`
	Status       string            `json:"status"`
	BlockHeight  int64             `json:"block_height"`
	BlockHash    string            `json:"block_hash,omitempty"`
	OriginNodeID string            `json:"origin_node_id"`
	Events       []app.LedgerEvent `json:"events"`
}

// NewWebServer creates a new web server. node and ledger may be nil when
// events are not published to a ledger.
func NewWebServer(httpPort string, logger cmtlog.Logger, serviceRegistry *srvreg.ServiceRegistry, node *nm.Node, ledger LedgerClient) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          logger,
		node:            node,
		ledger:          ledger,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
	}

	// Register routes
	mux.HandleFunc("/", server.handleNotFound)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/status/", server.handleTransactionStatus)
	mux.HandleFunc("/ledger/streams/", server.handleLedgerStream)
	// Bordereau Endpoints
	mux.HandleFunc("/bsds", server.handleRegistryAPI)
	mux.HandleFunc("/bsds/", server.handleRegistryAPI)
	mux.HandleFunc("/revision-requests/", server.handleRegistryAPI)

	return server
}

// Handler exposes the route table, mostly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// Health summarizes the node for monitoring.
type Health struct {
	Uptime        string `json:"uptime"`
	LedgerEnabled bool   `json:"ledger_enabled"`
	NodeID        string `json:"node_id,omitempty"`
	NodeStatus    string `json:"node_status,omitempty"`
	Peers         int    `json:"peers"`
	BlockHeight   int64  `json:"latest_block_height,omitempty"`
	BlockTime     string `json:"latest_block_time,omitempty"`
	CatchingUp    bool   `json:"catching_up"`
	AppHash       string `json:"last_block_app_hash,omitempty"`
	LedgerError   string `json:"ledger_error,omitempty"`
}

func (ws *WebServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	JSONError(w, "No route for "+r.URL.Path, http.StatusNotFound)
}

// handleHealth reports uptime and, with a ledger, consensus progress.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h := Health{
		Uptime:        time.Since(ws.startTime).Round(time.Second).String(),
		LedgerEnabled: ws.ledger != nil,
	}
	if ws.node != nil {
		h.NodeID = string(ws.node.NodeInfo().ID())
		switch {
		case !ws.node.IsListening():
			h.NodeStatus = "offline"
		case ws.node.ConsensusReactor().WaitSync():
			h.NodeStatus = "syncing"
		default:
			h.NodeStatus = "online"
		}
		out, in, _ := ws.node.Switch().NumPeers()
		h.Peers = out + in
	}
	if ws.ledger != nil {
		if st, err := ws.ledger.Status(r.Context()); err != nil {
			h.LedgerError = err.Error()
		} else {
			h.BlockHeight = st.SyncInfo.LatestBlockHeight
			h.BlockTime = st.SyncInfo.LatestBlockTime.UTC().Format(time.RFC3339)
			h.CatchingUp = st.SyncInfo.CatchingUp
		}
		if info, err := ws.ledger.ABCIInfo(r.Context()); err == nil {
			h.AppHash = fmt.Sprintf("%X", info.Response.LastBlockAppHash)
		}
	}

	status := http.StatusOK
	if h.LedgerError != "" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h, ws.logger)
}

// handleTransactionStatus returns the ledger status of a published event batch
func (ws *WebServer) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ws.ledger == nil {
		JSONError(w, "Ledger is disabled", http.StatusNotFound)
		return
	}

	// Extract transaction ID from URL
	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 3 || pathParts[1] != "status" || pathParts[2] == "" {
		JSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	status, err := ws.checkTransactionStatus(r.Context(), pathParts[2])
	if err != nil {
		JSONError(w, "Error checking transaction status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if status == nil {
		JSONError(w, "Transaction not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status, ws.logger)
}

// handleLedgerStream returns the events of one bordereau as recorded by the ledger
func (ws *WebServer) handleLedgerStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ws.ledger == nil {
		JSONError(w, "Ledger is disabled", http.StatusNotFound)
		return
	}

	streamID := strings.TrimPrefix(r.URL.Path, "/ledger/streams/")
	if streamID == "" || strings.Contains(streamID, "/") {
		JSONError(w, "Invalid bordereau ID", http.StatusBadRequest)
		return
	}

	res, err := ws.ledger.ABCIQuery(r.Context(), "", cmtbytes.HexBytes("stream:"+streamID))
	if err != nil {
		JSONError(w, "Error querying ledger: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if res.Response.Code != 0 {
		JSONError(w, res.Response.Log, http.StatusInternalServerError)
		return
	}

	var events []app.LedgerEvent
	if err := json.Unmarshal(res.Response.Value, &events); err != nil {
		JSONError(w, "Error decoding ledger events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events, ws.logger)
}

// handleRegistryAPI hands bordereau requests to the service registry
func (ws *WebServer) handleRegistryAPI(w http.ResponseWriter, r *http.Request) {
	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	request, err := srvreg.ConvertHttpRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		JSONError(w, "Failed to generate response: "+err.Error(), http.StatusInternalServerError)
		ws.logger.Error("Failed to generate response", "err", err)
		return
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(response.StatusCode)
	if _, err := w.Write([]byte(response.Body)); err != nil {
		ws.logger.Error("Failed to write client response", "err", err)
	}

	ws.logger.Debug("Request served",
		"request_id", requestID,
		"method", request.Method,
		"path", request.Path,
		"actor", request.Actor.ID,
		"status", response.StatusCode,
	)
}

// checkTransactionStatus checks the status of a transaction in the blockchain
func (ws *WebServer) checkTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error) {
	query := fmt.Sprintf("tx.hash='%s'", strings.ToUpper(txID))
	res, err := ws.ledger.TxSearch(ctx, query, false, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("error searching for transaction: %w", err)
	}
	if len(res.Txs) == 0 {
		return nil, nil // Transaction not found
	}

	tx := res.Txs[0]

	var ledgerTx app.LedgerTx
	if err := json.Unmarshal(tx.Tx, &ledgerTx); err != nil {
		return nil, fmt.Errorf("error parsing transaction: %w", err)
	}

	// Extract events
	status := "pending"
	for _, event := range tx.TxResult.Events {
		if event.Type != "bsd_tx" {
			continue
		}
		for _, attr := range event.Attributes {
			if attr.Key == "status" {
				status = attr.Value
			}
		}
	}

	return &TransactionStatus{
		TxID:         txID,
		Status:       status,
		BlockHeight:  tx.Height,
		BlockHash:    fmt.Sprintf("%X", tx.Hash),
		OriginNodeID: ledgerTx.OriginNodeID,
		Events:       ledgerTx.Events,
	}, nil
}

func generateRequestID() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any, logger cmtlog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		logger.Error("Error encoding response", "err", err)
	}
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := srvreg.ErrorBody{Error: message}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Set content type and status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Write JSON response
	w.Write(jsonBytes)
}
