package go_chat_relay

import (
    "sync"
    "sync/atomic"
    "time"
)

// Returned by `mockConn.TestRecv` if nothing arrives in time.
const TestTimeout RelayError = 1000

// A simple mock connection, used to test the relay server without an
// actual HTTP connection.
//
// Although the server may use the `Conn` API to use this connection,
// tests must access this structure directly to simulate interactions.
//
// To simulate a message arriving from the client's remote endpoint, call
// `TestSend`:
//
//     c := newMockConn()
//     /* Connect it to the server. */
//     c.TestSend(`{"id": "..."}`)
//
// On the other hand, to simulate a client receiving a message, call
// `TestRecv` with a timeout, to avoid causing tests to hang.
type mockConn struct {
    // fromClient simulates incoming messages (from the server's
    // perspectives) from the client's remote endpoint.
    fromClient chan string

    // fromServer simulates outgoing messages (from the server's
    // perspectives) to the client's remote endpoint.
    fromServer chan string

    // stop signals, by getting closed, that the connection was closed.
    stop chan struct{}

    // Whether the connection is currently running.
    running uint32

    // The code and reason sent when the server closed the connection.
    closeCode CloseCode
    closeReason string
    closeLock sync.Mutex
}

// newMockConn create a dummy, mock connection that may be used in tests.
func newMockConn() *mockConn {
    return &mockConn {
        fromClient: make(chan string),
        fromServer: make(chan string, 100),
        stop: make(chan struct{}),
        running: 1,
    }
}

// isClosed check if the connection is closed.
func (mc *mockConn) isClosed() bool {
    return atomic.LoadUint32(&mc.running) == 0
}

// Close the connection.
//
// This can safely be called multiple times without any issue.
func (mc *mockConn) Close() error {
    if atomic.CompareAndSwapUint32(&mc.running, 1, 0) {
        close(mc.stop)
    }
    return nil
}

// CloseWithReason record `code` and `reason`, and close the connection.
func (mc *mockConn) CloseWithReason(code CloseCode, reason string) error {
    if mc.isClosed() {
        return ConnEOF
    }

    mc.closeLock.Lock()
    mc.closeCode = code
    mc.closeReason = reason
    mc.closeLock.Unlock()

    return mc.Close()
}

// Recv blocks until a new message was received.
func (mc *mockConn) Recv() (string, error) {
    select {
    case msg := <-mc.fromClient:
        return msg, nil
    case <-mc.stop:
        return "", ConnEOF
    }
}

// SendStr send `msg`, previously formatted by the caller.
func (mc *mockConn) SendStr(msg string) error {
    if mc.isClosed() {
        return ConnEOF
    }

    mc.fromServer <- msg

    return nil
}

// TestSend send a message from the client to the server.
func (mc *mockConn) TestSend(msg string) error {
    select {
    case mc.fromClient <- msg:
        return nil
    case <-mc.stop:
        return ConnEOF
    }
}

// TestRecv wait for `timeout` to receive a message from the server.
//
// Messages sent before the connection got closed may still be received.
func (mc *mockConn) TestRecv(timeout time.Duration) (string, error) {
    select {
    case msg := <-mc.fromServer:
        return msg, nil
    default:
    }

    select {
    case msg := <-mc.fromServer:
        return msg, nil
    case <-time.After(timeout):
        return "", TestTimeout
    case <-mc.stop:
        return "", ConnEOF
    }
}

// TestWaitClose wait for `timeout` for the connection to get closed,
// returning the code that it was closed with.
func (mc *mockConn) TestWaitClose(timeout time.Duration) (CloseCode, error) {
    select {
    case <-mc.stop:
    case <-time.After(timeout):
        return 0, TestTimeout
    }

    mc.closeLock.Lock()
    defer mc.closeLock.Unlock()
    return mc.closeCode, nil
}

// stallConn is a mockConn that never finishes sending anything until it
// gets closed.
type stallConn struct {
    *mockConn
}

func newStallConn() *stallConn {
    return &stallConn{newMockConn()}
}

// SendStr block until the connection gets closed.
func (sc *stallConn) SendStr(msg string) error {
    if msg == ackEnvelope {
        return sc.mockConn.SendStr(msg)
    }

    <-sc.stop
    return ConnEOF
}
