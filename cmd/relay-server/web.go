package main

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net"
    "net/http"
    "time"

    gochat "github.com/SirGFM/go-chat-relay"
    pebble_directory "github.com/SirGFM/go-chat-relay/pebble-directory"
    "github.com/gorilla/mux"
    gows "github.com/gorilla/websocket"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/rs/zerolog"
)

// Header that carries the caller's identity.
const userHeader = "X-User-ID"

// For how long in-flight requests may run after the server starts closing.
const shutdownTimeout = time.Second * 5

type server struct {
    // The server's HTTP server
    httpServer *http.Server
    // The relay server
    relay gochat.RelayServer
    // The persistent directory, if any
    dir io.Closer

    args Args
    upgrader gows.Upgrader
    limiter *limiterPool
    logger zerolog.Logger
}

// errorReply is the body of every failed request.
type errorReply struct {
    Code string `json:"code"`
    Message string `json:"message"`
}

type createUserRequest struct {
    Name string `json:"name"`
}

type listUsersReply struct {
    Users map[string]string `json:"users"`
}

type sendRequest struct {
    RecipientName string `json:"recipient_name"`
    Message string `json:"message"`
}

type sendReply struct {
    MessageID string `json:"message_id"`
    Status string `json:"status"`
    DeliveredTo int `json:"delivered_to"`
    Details string `json:"details"`
}

// newServer create the relay server, and its directory, configured by
// `args`.
func newServer(args Args, logger zerolog.Logger) (*server, error) {
    srv := &server {
        args: args,
        upgrader: newUpgrader(args),
        limiter: newLimiterPool(args.RateLimit, args.RateBurst),
        logger: logger,
    }

    conf := gochat.GetDefaultServerConf()
    conf.AuthTimeout = args.AuthTimeout
    conf.DuplicateAuthGrace = args.DuplicateAuthGrace
    conf.PushTimeout = args.PushTimeout
    conf.Logger = logger

    if len(args.DataDir) > 0 {
        dir, err := pebble_directory.Open(args.DataDir, logger)
        if err != nil {
            return nil, err
        }
        conf.Directory = dir
        srv.dir = dir
    }

    srv.relay = gochat.NewServerConf(conf)
    gochat.RegisterMetrics(prometheus.DefaultRegisterer)

    return srv, nil
}

// router route every endpoint to its handler.
func (s *server) router() *mux.Router {
    r := mux.NewRouter()
    r.Use(logRequests(s.logger))

    api := r.PathPrefix("/api").Subrouter()
    api.HandleFunc("/users/create", s.createUser).Methods(http.MethodPost)
    api.HandleFunc("/users/list", s.listUsers).Methods(http.MethodGet)
    api.HandleFunc("/users/{name}", s.getUser).Methods(http.MethodGet)
    api.HandleFunc("/messages/send", s.sendMessage).Methods(http.MethodPost)

    r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
    r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
    r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
    r.HandleFunc("/", serveChatPage).Methods(http.MethodGet)
    r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
        httpError(w, http.StatusNotFound, "not_found", "404 - Nothing to see here...")
    })

    return r
}

// httpJSONReply send `v` encoded as JSON.
func httpJSONReply(w http.ResponseWriter, status int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(v)
}

// httpError send an error reply.
func httpError(w http.ResponseWriter, status int, code, msg string) {
    httpJSONReply(w, status, errorReply {
        Code: code,
        Message: msg,
    })
}

// decodeBody decode the request's JSON body into `v`, replying with an
// error and returning false on failure.
func (s *server) decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) bool {
    body := http.MaxBytesReader(w, req.Body, s.args.MaxMessageSize)

    err := json.NewDecoder(body).Decode(v)
    if err != nil {
        var tooLarge *http.MaxBytesError
        if errors.As(err, &tooLarge) {
            httpError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
                    fmt.Sprintf("Request body is larger than %d bytes", s.args.MaxMessageSize))
        } else {
            httpError(w, http.StatusBadRequest, "invalid_request",
                    fmt.Sprintf("Couldn't decode the request: %+v", err))
        }
        return false
    }

    return true
}

func (s *server) createUser(w http.ResponseWriter, req *http.Request) {
    var body createUserRequest
    if !s.decodeBody(w, req, &body) {
        return
    }

    id, err := s.relay.Register(body.Name)
    switch err {
    case nil:
        httpJSONReply(w, http.StatusCreated, id)
    case gochat.Conflict:
        httpError(w, http.StatusConflict, gochat.ErrorCode(err), "Username already exists")
    case gochat.InvalidName:
        httpError(w, http.StatusBadRequest, gochat.ErrorCode(err), err.Error())
    default:
        s.logger.Error().Err(err).Msg("Couldn't register the user")
        httpError(w, http.StatusInternalServerError, gochat.ErrorCode(err), "Couldn't register the user")
    }
}

func (s *server) listUsers(w http.ResponseWriter, req *http.Request) {
    list, err := s.relay.ListIdentities()
    if err != nil {
        s.logger.Error().Err(err).Msg("Couldn't list the users")
        httpError(w, http.StatusInternalServerError, gochat.ErrorCode(err), "Couldn't list the users")
        return
    }

    reply := listUsersReply {
        Users: make(map[string]string, len(list)),
    }
    for _, id := range list {
        reply.Users[id.Name] = id.ID
    }

    httpJSONReply(w, http.StatusOK, reply)
}

func (s *server) getUser(w http.ResponseWriter, req *http.Request) {
    name := mux.Vars(req)["name"]

    id, err := s.relay.Resolve(name)
    if err != nil {
        httpError(w, http.StatusNotFound, gochat.ErrorCode(err),
                fmt.Sprintf("User '%s' not found", name))
        return
    }

    httpJSONReply(w, http.StatusOK, gochat.Identity {
        Name: name,
        ID: id,
    })
}

func (s *server) sendMessage(w http.ResponseWriter, req *http.Request) {
    credential := req.Header.Get(userHeader)
    if len(credential) == 0 {
        httpError(w, http.StatusUnauthorized, gochat.ErrorCode(gochat.Unauthorized),
                "Authentication required: missing " + userHeader)
        return
    }

    sender, err := s.relay.Identify(credential)
    if err != nil {
        httpError(w, http.StatusUnauthorized, gochat.ErrorCode(gochat.Unauthorized),
                "Invalid user ID")
        return
    }

    if !s.limiter.Allow(credential) {
        httpError(w, http.StatusTooManyRequests, "rate_limited",
                "Too many messages; try again later")
        return
    }

    var body sendRequest
    if !s.decodeBody(w, req, &body) {
        return
    } else if len(body.RecipientName) == 0 {
        httpError(w, http.StatusBadRequest, "invalid_request", "Missing recipient_name")
        return
    }

    receipt, err := s.relay.Route(sender, body.RecipientName, body.Message)
    switch err {
    case nil:
        httpJSONReply(w, http.StatusOK, sendReply {
            MessageID: receipt.MessageID,
            Status: "delivered",
            DeliveredTo: receipt.DeliveredTo,
            Details: fmt.Sprintf("Message %s delivered to %s", receipt.MessageID, body.RecipientName),
        })
    case gochat.NotFound:
        httpError(w, http.StatusNotFound, gochat.ErrorCode(err),
                fmt.Sprintf("Recipient '%s' not found", body.RecipientName))
    case gochat.NotConnected:
        httpError(w, http.StatusNotFound, gochat.ErrorCode(err),
                fmt.Sprintf("Recipient '%s' is not connected", body.RecipientName))
    case gochat.Unauthorized:
        httpError(w, http.StatusUnauthorized, gochat.ErrorCode(err), "Invalid user ID")
    default:
        s.logger.Error().Err(err).Msg("Couldn't route the message")
        httpError(w, http.StatusInternalServerError, gochat.ErrorCode(err), "Couldn't route the message")
    }
}

// serveWS upgrade the request and hand it to the relay server.
//
// The identity may be supplied in the `X-User-ID` header. Otherwise, the
// WebSocket's first message must authenticate it.
func (s *server) serveWS(w http.ResponseWriter, req *http.Request) {
    credential := req.Header.Get(userHeader)

    conn, err := s.newConn(w, req)
    if err != nil {
        // The upgrader already replied to the request.
        s.logger.Info().Err(err).Str("remote", req.RemoteAddr).Msg("Couldn't upgrade the connection")
        return
    }

    // On success, the upgraded request is handled by the relay server
    // until it gets closed.
    err = s.relay.ConnectAndWait(credential, conn)
    if err != nil {
        s.logger.Debug().
                Err(err).
                Str("remote", req.RemoteAddr).
                Msg("WebSocket rejected")
    }
}

func healthz(w http.ResponseWriter, req *http.Request) {
    httpJSONReply(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Close the running web server and clean up resources.
func (s *server) Close() error {
    s.relay.Close()

    if s.httpServer != nil {
        ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
        defer cancel()
        s.httpServer.Shutdown(ctx)
        s.httpServer = nil
    }

    if s.dir != nil {
        return s.dir.Close()
    }
    return nil
}

// runWeb server into a goroutine
func runWeb(args Args, logger zerolog.Logger) (io.Closer, error) {
    srv, err := newServer(args, logger)
    if err != nil {
        return nil, err
    }

    addr := fmt.Sprintf("%s:%d", args.IP, args.Port)
    l, err := net.Listen("tcp", addr)
    if err != nil {
        srv.Close()
        return nil, err
    }

    srv.httpServer = &http.Server {
        Handler: srv.router(),
    }

    go func() {
        logger.Info().Str("addr", addr).Msg("Waiting...")
        err := srv.httpServer.Serve(l)
        if err != nil && err != http.ErrServerClosed {
            logger.Error().Err(err).Msg("HTTP server failed")
        }
    } ()

    return srv, nil
}
