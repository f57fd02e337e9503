package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

const (
	websocketReadLimitBytes = 1 << 20
	websocketWriteTimeout   = 5 * time.Second
	websocketAckTimeout     = 10 * time.Second
)

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wsError        `json:"error"`
	Method string          `json:"method"`
	Params *wsNotifyParams `json:"params"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotifyParams struct {
	Result struct {
		Value struct {
			Err any `json:"err"`
		} `json:"value"`
	} `json:"result"`
	Subscription uint64 `json:"subscription"`
}

// signatureOutcome is the settled state of one subscription. A non-nil err
// means the subscription failed and says nothing about the transaction;
// otherwise a nil txErr means the transaction landed without error.
type signatureOutcome struct {
	txErr any
	err   error
}

// wsConfirmer waits for signatures through the node's signatureSubscribe
// pubsub method. Each wait uses its own connection.
type wsConfirmer struct {
	endpoint   string
	commitment rpc.CommitmentType
	ackTimeout time.Duration
	nextID     atomic.Uint64
}

func newWSConfirmer(endpoint string, commitment rpc.CommitmentType) *wsConfirmer {
	return &wsConfirmer{endpoint: endpoint, commitment: commitment, ackTimeout: websocketAckTimeout}
}

// watch subscribes to sig in the background and delivers exactly one
// outcome on the returned channel. It never blocks the caller.
func (w *wsConfirmer) watch(ctx context.Context, sig solana.Signature) <-chan signatureOutcome {
	out := make(chan signatureOutcome, 1)
	go func() {
		out <- w.await(ctx, sig)
	}()
	return out
}

func (w *wsConfirmer) await(ctx context.Context, sig solana.Signature) signatureOutcome {
	conn, _, err := dialWebsocket(ctx, w.endpoint)
	if err != nil {
		return signatureOutcome{err: fmt.Errorf("dial %s: %w", w.endpoint, err)}
	}
	defer conn.Close()
	stopCloser := closeConnOnContextDone(ctx, conn)
	defer stopCloser()

	id := w.nextID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "signatureSubscribe",
		Params: []any{
			sig.String(),
			map[string]string{"commitment": string(w.commitment)},
		},
	}
	if err := writeWebsocketJSON(conn, req); err != nil {
		return signatureOutcome{err: fmt.Errorf("signatureSubscribe %s: %w", sig, err)}
	}

	if err := conn.SetReadDeadline(time.Now().Add(w.ackTimeout)); err != nil {
		return signatureOutcome{err: err}
	}
	if err := readSubscriptionAck(conn, id); err != nil {
		return signatureOutcome{err: fmt.Errorf("signatureSubscribe %s: %w", sig, err)}
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return signatureOutcome{err: err}
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return signatureOutcome{err: err}
		}
		if msg.Method != "signatureNotification" || msg.Params == nil {
			continue
		}
		return signatureOutcome{txErr: msg.Params.Result.Value.Err}
	}
}

func readSubscriptionAck(conn *websocket.Conn, id uint64) error {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.ID == nil || *msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		return nil
	}
}

func dialWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	return conn, resp, nil
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}
