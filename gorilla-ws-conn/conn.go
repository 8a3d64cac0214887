// Package gorilla_ws_conn implements the Conn interface from
// https://github.com/SirGFM/go-chat-relay over a WebSocket connection
// from https://github.com/gorilla/websocket.
package gorilla_ws_conn

import (
    "net/http"
    "sync"
    "sync/atomic"
    "time"

    gochat "github.com/SirGFM/go-chat-relay"
    gows "github.com/gorilla/websocket"
    "github.com/rs/zerolog"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_chat_relay says hi"

// module is the string used when logging messages from this package.
const module = "go-chat-relay/gorilla-ws-conn"

// Close reasons may have at most this many bytes, so the whole control
// frame fits into 125 bytes.
const maxCloseReason = 123

// For how long a close frame may take to be sent.
const closeWriteTimeout = time.Second

// Options configure a wrapped connection.
type Options struct {
    // PingTimeout after which, without receiving anything, the
    // connection pings its remote endpoint. If it times out once again,
    // the connection gets closed. Zero disables this.
    PingTimeout time.Duration

    // WriteTimeout bounds every write. Zero disables this.
    WriteTimeout time.Duration

    // Logger used to report connection errors.
    Logger zerolog.Logger
}

// gwsConn wrap a gorilla/ws connection into a gochat.Conn.
type gwsConn struct {
    // The gorilla WebSocket connection.
    conn *gows.Conn

    opts Options

    // ticker generates a message on a channel if `PingTimeout` elapsed
    // without receiving any message. nil if the timeout is disabled.
    ticker *time.Ticker

    // timeoutCount is 1 after pinging an idle remote endpoint.
    timeoutCount uint32

    // sendMutex synchronizes write operations on `conn`.
    sendMutex sync.Mutex

    // Whether the connection is currently active.
    active uint32

    // stop signals, by getting closed, that the connection should get
    // closed.
    stop chan struct{}

    logger zerolog.Logger
}

// isActive check if the connection is still active.
func (c *gwsConn) isActive() bool {
    return atomic.LoadUint32(&c.active) == 1
}

// Close the connection.
//
// gorilla/ws allows closing the connection concurrently with writes, so
// this doesn't wait for a stalled write to finish.
func (c *gwsConn) Close() error {
    if atomic.CompareAndSwapUint32(&c.active, 1, 0) {
        c.conn.Close()

        if c.ticker != nil {
            c.ticker.Stop()
        }
        close(c.stop)
    }

    return nil
}

// CloseWithReason send a close frame with `code` and `reason`, and then
// close the connection.
func (c *gwsConn) CloseWithReason(code gochat.CloseCode, reason string) error {
    if !c.isActive() {
        return gochat.ConnEOF
    }

    if len(reason) > maxCloseReason {
        reason = reason[:maxCloseReason]
    }

    msg := gows.FormatCloseMessage(int(code), reason)
    err := c.conn.WriteControl(gows.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
    if err != nil {
        c.logger.Debug().
                Err(err).
                Stringer("code", code).
                Msg("Couldn't send the close frame")
    }

    c.Close()
    return err
}

// resetTimeout restart the idle period. Called on anything received.
func (c *gwsConn) resetTimeout() {
    if c.ticker == nil {
        return
    }

    atomic.StoreUint32(&c.timeoutCount, 0)
    c.ticker.Reset(c.opts.PingTimeout)
}

// Recv blocks until a new text message was received.
//
// Binary messages are discarded.
func (c *gwsConn) Recv() (string, error) {
    for c.isActive() {
        typ, txt, err := c.conn.ReadMessage()
        if err != nil {
            if gows.IsUnexpectedCloseError(err, gows.CloseNormalClosure, gows.CloseGoingAway) {
                c.logger.Debug().Err(err).Msg("Connection closed unexpectedly")
            }
            c.Close()
            return "", gochat.ConnEOF
        }

        c.resetTimeout()

        if typ == gows.TextMessage {
            return string(txt), nil
        }
        c.logger.Debug().Int("type", typ).Msg("Discarding non-text message")
    }

    return "", gochat.ConnEOF
}

// send the message, properly synchronizing the connection.
func (c *gwsConn) send(mType int, data []byte) error {
    if !c.isActive() {
        return gochat.ConnEOF
    }

    c.sendMutex.Lock()
    defer c.sendMutex.Unlock()

    if c.opts.WriteTimeout > 0 {
        c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
    }
    if err := c.conn.WriteMessage(mType, data); err != nil {
        if !c.isActive() {
            return gochat.ConnEOF
        }
        return err
    }

    return nil
}

// SendStr send `msg`, previously formatted by the caller, as a text
// message.
func (c *gwsConn) SendStr(msg string) error {
    return c.send(gows.TextMessage, []byte(msg))
}

// detectTimeout ping the remote endpoint once it goes quiet for
// `PingTimeout`, and close the connection if it stays quiet for another
// period.
func (c *gwsConn) detectTimeout() {
    for c.isActive() {
        select {
        case <-c.ticker.C:
            if atomic.CompareAndSwapUint32(&c.timeoutCount, 0, 1) {
                err := c.send(gows.PingMessage, []byte(defaultPing))
                if err != nil {
                    c.logger.Info().Err(err).Msg("Couldn't ping on timeout")
                    c.Close()
                }
            } else {
                c.logger.Info().
                        Dur("timeout", c.opts.PingTimeout).
                        Msg("Remote endpoint stopped responding")
                c.Close()
            }
        case <-c.stop:
        }
    }
}

// ping answer a ping from the remote endpoint with a pong carrying the
// same `appData`.
//
// gorilla/ws's default handler writes the pong itself, which could race
// with `SendStr`, so the reply goes through `send` instead. Any ping
// counts as activity.
func (c *gwsConn) ping(appData string) error {
    c.resetTimeout()

    return c.send(gows.PongMessage, []byte(appData))
}

// pong only counts as activity, whether or not it answers our ping.
func (c *gwsConn) pong(appData string) error {
    c.resetTimeout()
    return nil
}

// Wrap an already established gorilla/ws connection into a gochat.Conn.
//
// If `opts.PingTimeout` is set, `Wrap` spawns a goroutine to manually
// detect timeouts, since gorilla/ws's documentation specifies that the
// websocket becomes corrupt if a read set with `SetReadDeadline` times
// out.
func Wrap(conn *gows.Conn, opts Options) gochat.Conn {
    c := &gwsConn {
        conn: conn,
        opts: opts,
        active: 1,
        stop: make(chan struct{}),
        logger: opts.Logger.With().
                Str("module", module).
                Str("remote", conn.RemoteAddr().String()).
                Logger(),
    }
    conn.SetPingHandler(c.ping)
    conn.SetPongHandler(c.pong)

    if opts.PingTimeout > 0 {
        c.ticker = time.NewTicker(opts.PingTimeout)
        go c.detectTimeout()
    }

    return c
}

// NewConn upgrade a HTTP connection to a relay Conn.
//
// The supplied `upgrader` is used to upgrade the HTTP request into a
// WebSocket connection, which is then configured by `opts` as in `Wrap`.
func NewConn(upgrader gows.Upgrader, opts Options, w http.ResponseWriter,
        req *http.Request) (gochat.Conn, error) {

    conn, err := upgrader.Upgrade(w, req, nil)
    if err != nil {
        return nil, err
    }

    return Wrap(conn, opts), nil
}
