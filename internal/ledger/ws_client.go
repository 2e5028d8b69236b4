package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"stellar-stream-indexer/internal/domain"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSClient subscribes to the contract event feed over WebSocket. It
// reconnects with backoff on read errors and resubscribes, so the
// event channel stays open across node restarts.
type WSClient struct {
	endpoint string
	contract string
	config   WSConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	events chan *domain.RawEvent

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient connects to the endpoint and subscribes to events
// emitted by the contract.
func NewWSClient(ctx context.Context, endpoint, contract string, config *WSConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint: endpoint,
		contract: contract,
		config:   cfg,
		logger:   log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lshortfile),
		events:   make(chan *domain.RawEvent, 256),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Events returns the feed channel. It is closed only when the client
// is closed; transient disconnects are handled internally.
func (c *WSClient) Events() <-chan *domain.RawEvent {
	return c.events
}

// Close shuts down the client and closes the event channel.
func (c *WSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// connect establishes the WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

type wsRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// subscribe sends the event subscription request for the contract.
func (c *WSClient) subscribe() error {
	params := map[string]interface{}{}
	if c.contract != "" {
		params["filters"] = []map[string]interface{}{
			{"type": "contract", "contractIds": []string{c.contract}},
		}
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "eventsSubscribe",
		Params:  params,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// readLoop reads messages until shutdown, reconnecting on errors.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Printf("read error: %v", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect closes the current connection and retries with backoff
// until connected or shut down. Returns false on shutdown.
func (c *WSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err != nil {
			c.logger.Printf("reconnect failed: %v", err)
			delay = delay * 2
			if delay > c.config.MaxReconnectDelay {
				delay = c.config.MaxReconnectDelay
			}
			continue
		}

		if err := c.subscribe(); err != nil {
			c.logger.Printf("resubscribe failed: %v", err)
			continue
		}
		c.logger.Println("reconnected and resubscribed")
		return true
	}
}

// handleMessage parses one incoming message and forwards events.
func (c *WSClient) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "eventsNotification" {
		// Subscription confirmations and errors land here; errors are
		// worth surfacing, confirmations are not.
		var errResp struct {
			Error *rpcError `json:"error"`
		}
		if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
			c.logger.Printf("error response: %v", errResp.Error)
		}
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(notif.Params.Result, &env); err != nil {
		c.logger.Printf("malformed notification: %v", err)
		return
	}

	raw, err := env.toRawEvent()
	if err != nil {
		c.logger.Printf("undecodable event in ledger %d: %v", env.LedgerSeq, err)
		return
	}

	select {
	case c.events <- raw:
	case <-c.done:
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Printf("ping failed: %v", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}
