package chain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openbook-dex/openbook-v2-simulation/internal/logging"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// newPubsubServer runs handle on every upgraded connection.
func newPubsubServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

// notifyAfterAck acknowledges the subscription then pushes notification.
func notifyAfterAck(requests chan<- wsRequest, notification string) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if requests != nil {
			requests <- req
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(notification))
		_, _, _ = conn.ReadMessage()
	}
}

// neverAck reads the subscription request and stays silent until the
// client goes away.
func neverAck(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func awaitOutcome(t *testing.T, outcomes <-chan signatureOutcome) signatureOutcome {
	t.Helper()
	select {
	case outcome := <-outcomes:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
		return signatureOutcome{}
	}
}

func TestWatchDeliversSuccess(t *testing.T) {
	requests := make(chan wsRequest, 1)
	server := newPubsubServer(t, notifyAfterAck(requests,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":5},"value":{"err":null}},"subscription":7}}`))
	confirmer := newWSConfirmer(wsURL(server), rpc.CommitmentConfirmed)
	sig := solana.Signature{9}

	outcome := awaitOutcome(t, confirmer.watch(context.Background(), sig))
	require.NoError(t, outcome.err)
	require.Nil(t, outcome.txErr)

	req := <-requests
	require.Equal(t, "signatureSubscribe", req.Method)
	require.Equal(t, sig.String(), req.Params[0])
	require.Equal(t, map[string]any{"commitment": "confirmed"}, req.Params[1])
}

func TestWatchDeliversTransactionError(t *testing.T) {
	server := newPubsubServer(t, notifyAfterAck(nil,
		`{"jsonrpc":"2.0","method":"signatureNotification","params":{"result":{"context":{"slot":5},"value":{"err":{"InstructionError":[0,{"Custom":1}]}}},"subscription":7}}`))
	confirmer := newWSConfirmer(wsURL(server), rpc.CommitmentConfirmed)

	outcome := awaitOutcome(t, confirmer.watch(context.Background(), solana.Signature{1}))
	require.NoError(t, outcome.err)
	require.NotNil(t, outcome.txErr)
}

func TestWatchRejectedByNode(t *testing.T) {
	server := newPubsubServer(t, func(conn *websocket.Conn) {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32602, "message": "Invalid params"},
		})
	})
	confirmer := newWSConfirmer(wsURL(server), rpc.CommitmentConfirmed)

	outcome := awaitOutcome(t, confirmer.watch(context.Background(), solana.Signature{1}))
	require.ErrorContains(t, outcome.err, "Invalid params")
}

func TestWatchGivesUpOnMissingAck(t *testing.T) {
	server := newPubsubServer(t, neverAck)
	confirmer := newWSConfirmer(wsURL(server), rpc.CommitmentConfirmed)
	confirmer.ackTimeout = 50 * time.Millisecond

	outcome := awaitOutcome(t, confirmer.watch(context.Background(), solana.Signature{1}))
	require.Error(t, outcome.err)
}

func TestWatchDialFailure(t *testing.T) {
	confirmer := newWSConfirmer("ws://127.0.0.1:1", rpc.CommitmentConfirmed)
	outcome := awaitOutcome(t, confirmer.watch(context.Background(), solana.Signature{1}))
	require.Error(t, outcome.err)
}

// newStatusServer answers every getSignatureStatuses call with status.
func newStatusServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return
		}
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":`+string(req.ID)+
			`,"result":{"context":{"slot":10},"value":[{"slot":10,"confirmations":null,"err":null,"confirmationStatus":"`+status+`"}]}}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWaitForConfirmationPollsWhileSubscriptionHangs(t *testing.T) {
	rpcServer := newStatusServer(t, "confirmed")
	wsServer := newPubsubServer(t, neverAck)
	client := New(Options{
		RPCURL:     rpcServer.URL,
		WSURL:      wsURL(wsServer),
		Commitment: rpc.CommitmentConfirmed,
		TxTimeout:  time.Minute,
	}, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	started := time.Now()
	require.NoError(t, client.waitForConfirmation(ctx, solana.Signature{3}, nil))
	require.Less(t, time.Since(started), 5*time.Second)
}
