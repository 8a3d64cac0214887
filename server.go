package go_chat_relay

import (
    "io"
    "sync"
    "sync/atomic"
    "time"

    "github.com/rs/zerolog"
)

// For how long a channel may stay open without authenticating.
const defAuthTimeout = time.Second * 5

// For how long after an out-of-band authentication a duplicated
// authentication payload is silently ignored.
const defDuplicateAuthGrace = time.Second * 2

// For how long a delivery may take to be pushed to a single channel.
const defPushTimeout = time.Second * 2

// module is the string used when logging messages from this package.
const module = "go_chat_relay"

// ServerConf configures a RelayServer.
type ServerConf struct {
    // AuthTimeout after which a channel that didn't send its
    // authentication payload gets closed.
    AuthTimeout time.Duration

    // DuplicateAuthGrace during which, after authenticating with a
    // credential, an authentication payload for the same identity is
    // ignored.
    DuplicateAuthGrace time.Duration

    // PushTimeout bounds how long a delivery to a single channel may
    // take. A channel that times out gets closed.
    PushTimeout time.Duration

    // Directory where identities are registered. If nil, an in-memory
    // directory is used. The server never closes the directory.
    Directory Directory

    // Logger used to report events.
    Logger zerolog.Logger
}

// GetDefaultServerConf retrieve a usable configuration.
func GetDefaultServerConf() ServerConf {
    return ServerConf {
        AuthTimeout: defAuthTimeout,
        DuplicateAuthGrace: defDuplicateAuthGrace,
        PushTimeout: defPushTimeout,
        Logger: zerolog.Nop(),
    }
}

// Receipt reports the outcome of a routed message.
type Receipt struct {
    // MessageID shared by every channel that received the message.
    MessageID string

    // DeliveredTo counts the channels that the message was pushed to.
    DeliveredTo int
}

// The public interface of the relay server.
type RelayServer interface {
    io.Closer

    // GetConf retrieve the server's configuration.
    GetConf() ServerConf

    // Register a new identity named `name`.
    //
    // Fails with `Conflict` if `name` was already registered.
    Register(name string) (Identity, error)

    // Resolve the identifier registered for `name`, or `NotFound`.
    Resolve(name string) (string, error)

    // Identify the name that owns the identifier `id`, or `NotFound`.
    Identify(id string) (string, error)

    // ListIdentities retrieve every registered identity.
    ListIdentities() ([]Identity, error)

    // Connect authenticate `conn` and handle it in a new goroutine.
    //
    // `credential` is an identity's ID supplied out-of-band when the
    // connection was opened (for example, as a header). It may be empty,
    // in which case the first message received from `conn` must
    // authenticate it.
    //
    // The server takes ownership of `conn` and closes it when done.
    Connect(credential string, conn Conn)

    // ConnectAndWait authenticate `conn` and handle it in the calling
    // goroutine, blocking until it gets closed.
    //
    // On a rejected handshake, `conn` gets closed with the appropriate
    // reason and the error is returned: `ProtocolViolation`,
    // `AuthTimeout`, `ConnEOF` if the remote endpoint left first or
    // `ServerClosed`. Otherwise, this returns nil after the connection
    // closes.
    ConnectAndWait(credential string, conn Conn) error

    // Route `body` from the identity `sender` to every channel of the
    // identity `recipient`.
    Route(sender, recipient, body string) (Receipt, error)

    // Send `body` to `recipient` on behalf of the identity whose ID is
    // `credential`.
    Send(credential, recipient, body string) (Receipt, error)

    // Connected count the live channels for the identity `id`.
    Connected(id string) int
}

// The relay server.
type server struct {
    conf ServerConf

    // dir maps names to identities.
    dir Directory

    // channels maps identities to their authenticated channels.
    channels *registry

    // stop signals, by getting closed, that the server is closing.
    stop chan struct{}

    // Whether the server is currently running.
    running uint32

    // wg tracks goroutines started by `Connect`.
    wg sync.WaitGroup

    logger zerolog.Logger
}

// NewServerConf create a new relay server configured by `conf`.
//
// Unset timeouts fallback to their default values.
func NewServerConf(conf ServerConf) RelayServer {
    if conf.AuthTimeout <= 0 {
        conf.AuthTimeout = defAuthTimeout
    }
    if conf.DuplicateAuthGrace <= 0 {
        conf.DuplicateAuthGrace = defDuplicateAuthGrace
    }
    if conf.PushTimeout <= 0 {
        conf.PushTimeout = defPushTimeout
    }
    if conf.Directory == nil {
        conf.Directory = NewDirectory()
    }

    return &server {
        conf: conf,
        dir: conf.Directory,
        channels: newRegistry(),
        stop: make(chan struct{}),
        running: 1,
        logger: conf.Logger.With().Str("module", module).Logger(),
    }
}

// NewServer create a new relay server with the default configuration.
func NewServer() RelayServer {
    return NewServerConf(GetDefaultServerConf())
}

// GetConf retrieve the server's configuration.
func (s *server) GetConf() ServerConf {
    return s.conf
}

// isRunning check if the server is still running.
func (s *server) isRunning() bool {
    return atomic.LoadUint32(&s.running) == 1
}

// Close every channel and stop accepting new ones.
//
// Blocks until every goroutine started by `Connect` exits.
func (s *server) Close() error {
    if atomic.CompareAndSwapUint32(&s.running, 1, 0) {
        s.logger.Info().Msg("Closing the relay server...")
        close(s.stop)
        s.wg.Wait()
    }

    return nil
}

func (s *server) Register(name string) (Identity, error) {
    id, err := s.dir.Register(name)
    if err != nil {
        s.logger.Debug().
                Err(err).
                Str("name", name).
                Msg("Couldn't register the identity")
        return id, err
    }

    metricIdentitiesRegistered.Inc()
    s.logger.Info().
            Str("name", id.Name).
            Str("id", id.ID).
            Msg("Identity registered")

    return id, nil
}

func (s *server) Resolve(name string) (string, error) {
    return s.dir.Resolve(name)
}

func (s *server) Identify(id string) (string, error) {
    return s.dir.Identify(id)
}

func (s *server) ListIdentities() ([]Identity, error) {
    return s.dir.List()
}

func (s *server) Connected(id string) int {
    return s.channels.Count(id)
}

func (s *server) Connect(credential string, conn Conn) {
    if conn == nil {
        panic("go_chat_relay/server Connect: nil conn")
    } else if !s.isRunning() {
        conn.CloseWithReason(CloseGoingAway, ServerClosed.Error())
        return
    }

    s.wg.Add(1)
    go func() {
        defer s.wg.Done()
        s.serve(credential, conn)
    }()
}

func (s *server) ConnectAndWait(credential string, conn Conn) error {
    if conn == nil {
        panic("go_chat_relay/server ConnectAndWait: nil conn")
    }

    return s.serve(credential, conn)
}

// serve a single connection, from its handshake until it gets closed.
func (s *server) serve(credential string, conn Conn) error {
    if !s.isRunning() {
        conn.CloseWithReason(CloseGoingAway, ServerClosed.Error())
        return ServerClosed
    }

    c := newChannel(conn, s.logger.With().Str("module", module + "/channel").Logger())
    defer s.release(c)

    id, viaCredential, err := s.handshake(c, credential)
    if err != nil {
        return err
    }

    c.authenticate(id)
    s.channels.Add(id, c)
    metricHandshakes.WithLabelValues("ok").Inc()

    if err := c.send(ackEnvelope); err != nil {
        c.logger.Warn().
                Err(err).
                Msg("Couldn't acknowledge the authentication")
        return nil
    }

    c.logger.Info().
            Bool("credential", viaCredential).
            Msg("Channel authenticated")

    var grace time.Duration
    if viaCredential {
        grace = s.conf.DuplicateAuthGrace
    }
    s.supervise(c, grace)

    return nil
}

// release every resource associated with `c`.
//
// It's called exactly once per channel, regardless of what caused the
// channel to close, but anything it does is idempotent since a failed
// delivery may have already deregistered the channel.
func (s *server) release(c *channel) {
    if len(c.owner) > 0 {
        s.channels.Remove(c.owner, c)
    }

    c.close(CloseNormal, "")

    if c.getState() == stateAuthenticated {
        c.setState(stateClosed)
    }
}
