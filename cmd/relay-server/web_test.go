package main

import (
    "bytes"
    "encoding/json"
    "flag"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    gochat "github.com/SirGFM/go-chat-relay"
    gows "github.com/gorilla/websocket"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// defaultArgs retrieve the arguments used when nothing is supplied.
func defaultArgs(t *testing.T) Args {
    args, err := parseArgs(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-confFile="})
    require.NoError(t, err)
    return args
}

// testEnv is a running relay server behind a HTTP test server.
type testEnv struct {
    srv *server
    http *httptest.Server
}

func newTestEnv(t *testing.T, args Args) *testEnv {
    srv, err := newServer(args, zerolog.Nop())
    require.NoError(t, err)

    env := &testEnv {
        srv: srv,
        http: httptest.NewServer(srv.router()),
    }
    t.Cleanup(func() {
        srv.Close()
        env.http.Close()
    })

    return env
}

// do send a request with a JSON body, decoding the JSON reply into `out`.
func (env *testEnv) do(t *testing.T, method, path, user string, body interface{}, out interface{}) int {
    var data []byte
    switch v := body.(type) {
    case nil:
    case string:
        data = []byte(v)
    default:
        var err error
        data, err = json.Marshal(v)
        require.NoError(t, err)
    }

    req, err := http.NewRequest(method, env.http.URL + path, bytes.NewReader(data))
    require.NoError(t, err)
    req.Header.Set("Content-Type", "application/json")
    if len(user) > 0 {
        req.Header.Set(userHeader, user)
    }

    res, err := env.http.Client().Do(req)
    require.NoError(t, err)
    defer res.Body.Close()

    if out != nil {
        require.NoError(t, json.NewDecoder(res.Body).Decode(out))
    }
    return res.StatusCode
}

func (env *testEnv) register(t *testing.T, name string) gochat.Identity {
    var id gochat.Identity
    status := env.do(t, http.MethodPost, "/api/users/create", "", createUserRequest{Name: name}, &id)
    require.Equal(t, http.StatusCreated, status)
    return id
}

// dial open a WebSocket, optionally authenticated by `header`.
func (env *testEnv) dial(t *testing.T, header string) *gows.Conn {
    url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"

    var h http.Header
    if len(header) > 0 {
        h = http.Header{userHeader: []string{header}}
    }

    conn, _, err := gows.DefaultDialer.Dial(url, h)
    require.NoError(t, err)
    t.Cleanup(func() {
        conn.Close()
    })

    return conn
}

func readJSON(t *testing.T, conn *gows.Conn, out interface{}) {
    conn.SetReadDeadline(time.Now().Add(time.Second))
    typ, data, err := conn.ReadMessage()
    require.NoError(t, err)
    require.Equal(t, gows.TextMessage, typ)
    require.NoError(t, json.Unmarshal(data, out))
}

func expectAck(t *testing.T, conn *gows.Conn) {
    var ack map[string]string
    readJSON(t, conn, &ack)
    require.Equal(t, map[string]string{"type": "connection_status", "status": "ok"}, ack)
}

func TestUsersAPI(t *testing.T) {
    env := newTestEnv(t, defaultArgs(t))

    alice := env.register(t, "alice")
    require.Equal(t, "alice", alice.Name)
    require.NotEmpty(t, alice.ID)

    var e errorReply
    status := env.do(t, http.MethodPost, "/api/users/create", "", createUserRequest{Name: "alice"}, &e)
    require.Equal(t, http.StatusConflict, status)
    require.Equal(t, "conflict", e.Code)

    status = env.do(t, http.MethodPost, "/api/users/create", "", createUserRequest{Name: ""}, &e)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "invalid_name", e.Code)

    status = env.do(t, http.MethodPost, "/api/users/create", "", "{not json", &e)
    require.Equal(t, http.StatusBadRequest, status)

    bob := env.register(t, "bob")

    var list listUsersReply
    status = env.do(t, http.MethodGet, "/api/users/list", "", nil, &list)
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, map[string]string{"alice": alice.ID, "bob": bob.ID}, list.Users)

    var got gochat.Identity
    status = env.do(t, http.MethodGet, "/api/users/bob", "", nil, &got)
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, bob, got)

    status = env.do(t, http.MethodGet, "/api/users/carol", "", nil, &e)
    require.Equal(t, http.StatusNotFound, status)
    require.Equal(t, "not_found", e.Code)
}

func TestSendErrors(t *testing.T) {
    args := defaultArgs(t)
    args.MaxMessageSize = 256
    env := newTestEnv(t, args)

    alice := env.register(t, "alice")
    env.register(t, "bob")

    var e errorReply
    req := sendRequest{RecipientName: "bob", Message: "hi"}

    status := env.do(t, http.MethodPost, "/api/messages/send", "", req, &e)
    require.Equal(t, http.StatusUnauthorized, status)
    require.Contains(t, e.Message, "Authentication required")

    status = env.do(t, http.MethodPost, "/api/messages/send", "not-an-id", req, &e)
    require.Equal(t, http.StatusUnauthorized, status)
    require.Contains(t, e.Message, "Invalid user ID")

    status = env.do(t, http.MethodPost, "/api/messages/send", alice.ID,
            sendRequest{RecipientName: "carol", Message: "hi"}, &e)
    require.Equal(t, http.StatusNotFound, status)
    require.Contains(t, e.Message, "Recipient 'carol' not found")

    status = env.do(t, http.MethodPost, "/api/messages/send", alice.ID, req, &e)
    require.Equal(t, http.StatusNotFound, status)
    require.Contains(t, e.Message, "Recipient 'bob' is not connected")

    big := sendRequest{RecipientName: "bob", Message: strings.Repeat("x", 1024)}
    status = env.do(t, http.MethodPost, "/api/messages/send", alice.ID, big, &e)
    require.Equal(t, http.StatusRequestEntityTooLarge, status)
    require.Equal(t, "payload_too_large", e.Code)
}

func TestSendRateLimit(t *testing.T) {
    args := defaultArgs(t)
    args.RateLimit = 0.001
    args.RateBurst = 2
    env := newTestEnv(t, args)

    alice := env.register(t, "alice")
    env.register(t, "bob")

    req := sendRequest{RecipientName: "bob", Message: "hi"}
    for i := 0; i < args.RateBurst; i++ {
        status := env.do(t, http.MethodPost, "/api/messages/send", alice.ID, req, nil)
        require.Equal(t, http.StatusNotFound, status)
    }

    var e errorReply
    status := env.do(t, http.MethodPost, "/api/messages/send", alice.ID, req, &e)
    require.Equal(t, http.StatusTooManyRequests, status)
    require.Equal(t, "rate_limited", e.Code)
}

// TestRelay check the whole flow: registering, connecting and sending a
// message to every device of the recipient.
func TestRelay(t *testing.T) {
    env := newTestEnv(t, defaultArgs(t))

    alice := env.register(t, "alice")
    bob := env.register(t, "bob")

    // One device authenticates through the header and the other through
    // its first message.
    byHeader := env.dial(t, bob.ID)
    expectAck(t, byHeader)

    byMessage := env.dial(t, "")
    require.NoError(t, byMessage.WriteJSON(map[string]string{"id": bob.ID}))
    expectAck(t, byMessage)

    var reply sendReply
    status := env.do(t, http.MethodPost, "/api/messages/send", alice.ID,
            sendRequest{RecipientName: "bob", Message: "hi"}, &reply)
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, "delivered", reply.Status)
    require.Equal(t, 2, reply.DeliveredTo)
    require.NotEmpty(t, reply.MessageID)

    for _, conn := range []*gows.Conn{byHeader, byMessage} {
        var d gochat.Delivery
        readJSON(t, conn, &d)
        assert.Equal(t, "alice", d.From)
        assert.Equal(t, "hi", d.Message)
        assert.Equal(t, reply.MessageID, d.MessageID)
    }

    // Heartbeats
    require.NoError(t, byMessage.WriteMessage(gows.TextMessage, []byte(" ")))
    var hb map[string]string
    readJSON(t, byMessage, &hb)
    require.Equal(t, map[string]string{"type": "heartbeat", "status": "ok"}, hb)
}

func TestWebSocketRejected(t *testing.T) {
    args := defaultArgs(t)
    args.AuthTimeout = time.Millisecond * 50
    env := newTestEnv(t, args)

    for _, tc := range []struct {
        first string
        code int
    } {
        {`{"id": "not-an-id"}`, int(gochat.ClosePolicyViolation)},
        {`hello`, int(gochat.ClosePolicyViolation)},
        {"", int(gochat.CloseAuthTimeout)},
    } {
        conn := env.dial(t, "")
        if len(tc.first) > 0 {
            require.NoError(t, conn.WriteMessage(gows.TextMessage, []byte(tc.first)))
        }

        conn.SetReadDeadline(time.Now().Add(time.Second))
        _, _, err := conn.ReadMessage()
        closeErr, ok := err.(*gows.CloseError)
        require.True(t, ok, "expected a close error but got %+v", err)
        require.Equal(t, tc.code, closeErr.Code)
    }
}

func TestServiceEndpoints(t *testing.T) {
    env := newTestEnv(t, defaultArgs(t))

    var health map[string]string
    require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", nil, &health))
    require.Equal(t, "ok", health["status"])

    res, err := env.http.Client().Get(env.http.URL + "/metrics")
    require.NoError(t, err)
    defer res.Body.Close()
    require.Equal(t, http.StatusOK, res.StatusCode)

    page, err := env.http.Client().Get(env.http.URL + "/")
    require.NoError(t, err)
    defer page.Body.Close()
    require.Equal(t, http.StatusOK, page.StatusCode)
    require.Contains(t, page.Header.Get("Content-Type"), "text/html")

    var e errorReply
    require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/nothing/here", "", nil, &e))
}

// TestParseArgs check that explicit flags override the configuration
// file, which overrides the defaults.
func TestParseArgs(t *testing.T) {
    conf := filepath.Join(t.TempDir(), "relay.yaml")
    data := "port: 9000\nauth_timeout: 3s\nrate_limit: 2.5\nlog_level: debug\n"
    require.NoError(t, os.WriteFile(conf, []byte(data), 0600))

    fs := flag.NewFlagSet("test", flag.ContinueOnError)
    args, err := parseArgs(fs, []string{"-confFile", conf, "-Port", "9100"})
    require.NoError(t, err)

    require.Equal(t, 9100, args.Port)
    require.Equal(t, time.Second * 3, args.AuthTimeout)
    require.Equal(t, 2.5, args.RateLimit)
    require.Equal(t, "debug", args.LogLevel)
    require.Equal(t, time.Second * 2, args.PushTimeout)

    _, err = parseArgs(flag.NewFlagSet("test", flag.ContinueOnError),
            []string{"-confFile=", "-LogLevel", "loud"})
    require.Error(t, err)
}

func TestPersistentDirectory(t *testing.T) {
    args := defaultArgs(t)
    args.DataDir = t.TempDir()

    srv, err := newServer(args, zerolog.Nop())
    require.NoError(t, err)
    alice, err := srv.relay.Register("alice")
    require.NoError(t, err)
    require.NoError(t, srv.Close())

    env := newTestEnv(t, args)
    var got gochat.Identity
    require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/users/alice", "", nil, &got))
    require.Equal(t, alice, got)
}
