package go_chat_relay

import (
    "io"
    "sync/atomic"
    "time"

    "github.com/rs/zerolog"
)

// Conn is a generic interface for sending and receiving messages.
type Conn interface {
    io.Closer

    // Recv blocks until a new message was received. After the connection
    // gets closed, it must return an error.
    Recv() (string, error)

    // SendStr send `msg`, previously formatted by the caller.
    //
    // SendStr may be called concurrently from different goroutines.
    SendStr(msg string) error

    // CloseWithReason notify the remote endpoint why the connection is
    // being closed, and then close it.
    CloseWithReason(code CloseCode, reason string) error
}

// channelState tracks a channel's handshake.
type channelState uint32

const (
    stateOpened channelState = iota
    stateAuthenticating
    stateAuthenticated
    stateRejected
    stateClosed
)

func (s channelState) String() string {
    switch s {
    case stateOpened:
        return "opened"
    case stateAuthenticating:
        return "authenticating"
    case stateAuthenticated:
        return "authenticated"
    case stateRejected:
        return "rejected"
    case stateClosed:
        return "closed"
    default:
        return "unknown"
    }
}

// inbound is a result of `Conn.Recv`.
type inbound struct {
    msg string
    err error
}

// Sequential identifier used only to tell channels apart in logs.
var lastChannelSeq uint64

// channel is one live connection to a remote client.
//
// The goroutine that created the channel exclusively owns it: only that
// goroutine changes its state or its owner. Other goroutines may only
// `send` to it or `close` it.
type channel struct {
    // seq identifies the channel in logs.
    seq uint64

    // The identity that owns this channel. Only set after authenticating.
    owner string

    // Current channelState.
    state uint32

    // last time, in Unix nanoseconds, that anything was received.
    last int64

    // The connection to the remote endpoint.
    conn Conn

    // inbox receives every message read from `conn` by `pump`.
    inbox chan inbound

    // stop signals, by getting closed, that the channel was closed.
    stop chan struct{}

    // Whether the channel is still open.
    running uint32

    logger zerolog.Logger
}

// newChannel wrap `conn` into a channel waiting to be authenticated.
//
// `newChannel()` executes a new goroutine to read messages from `conn`.
// It exits once `conn` fails or the channel gets closed.
func newChannel(conn Conn, logger zerolog.Logger) *channel {
    c := &channel {
        seq: atomic.AddUint64(&lastChannelSeq, 1),
        state: uint32(stateOpened),
        last: time.Now().UnixNano(),
        conn: conn,
        inbox: make(chan inbound),
        stop: make(chan struct{}),
        running: 1,
    }
    c.logger = logger.With().Uint64("channel", c.seq).Logger()

    go c.pump()

    return c
}

// pump wait for new messages from the connection and forward them to
// the channel's owner.
func (c *channel) pump() {
    for {
        msg, err := c.conn.Recv()

        select {
        case c.inbox <- inbound{msg: msg, err: err}:
        case <-c.stop:
            return
        }

        if err != nil {
            return
        }
    }
}

// getState atomically retrieve the channel's state.
func (c *channel) getState() channelState {
    return channelState(atomic.LoadUint32(&c.state))
}

// setState atomically update the channel's state.
func (c *channel) setState(s channelState) {
    old := channelState(atomic.SwapUint32(&c.state, uint32(s)))

    c.logger.Debug().
            Stringer("from", old).
            Stringer("to", s).
            Msg("State changed")
}

// authenticate bind the channel to the identity `id`.
func (c *channel) authenticate(id string) {
    c.owner = id
    c.logger = c.logger.With().Str("owner", id).Logger()
    c.setState(stateAuthenticated)
}

// touch record that something was just received.
func (c *channel) touch() {
    atomic.StoreInt64(&c.last, time.Now().UnixNano())
}

// lastActivity retrieve the last time something was received.
func (c *channel) lastActivity() time.Time {
    return time.Unix(0, atomic.LoadInt64(&c.last))
}

// isRunning check if the channel is still open.
func (c *channel) isRunning() bool {
    return atomic.LoadUint32(&c.running) == 1
}

// send `msg` to the remote endpoint.
func (c *channel) send(msg string) error {
    if !c.isRunning() {
        return ConnEOF
    }
    return c.conn.SendStr(msg)
}

// close the channel, notifying the remote endpoint with `code`.
//
// This can safely be called multiple times (and from multiple goroutines),
// as it will only run on the first call. It reports whether this call was
// the one that closed the channel.
func (c *channel) close(code CloseCode, reason string) bool {
    if !atomic.CompareAndSwapUint32(&c.running, 1, 0) {
        return false
    }

    close(c.stop)
    if err := c.conn.CloseWithReason(code, reason); err != nil {
        c.logger.Debug().
                Err(err).
                Msg("Couldn't send the close reason")
    }

    c.logger.Debug().
            Stringer("code", code).
            Str("reason", reason).
            Msg("Channel closed")

    return true
}
