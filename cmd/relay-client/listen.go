package main

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net"
    "net/http"
    "sync"
    "time"

    gochat "github.com/SirGFM/go-chat-relay"
    "github.com/gobwas/ws"
    "github.com/gobwas/ws/wsutil"
    "github.com/rs/zerolog"
)

// listenOpts configure a listening WebSocket.
type listenOpts struct {
    // URL of the WebSocket endpoint.
    URL string
    // ID of the identity that owns the WebSocket.
    ID string
    // Header authenticates through the X-User-ID header instead of
    // through the first message.
    Header bool
    // Heartbeat period. Zero disables heartbeats.
    Heartbeat time.Duration
}

// wsClient is a client-side WebSocket whose writes may happen
// concurrently.
type wsClient struct {
    conn net.Conn
    r io.Reader
    m sync.Mutex
}

func (c *wsClient) write(op ws.OpCode, data []byte) error {
    c.m.Lock()
    defer c.m.Unlock()
    return wsutil.WriteClientMessage(c.conn, op, data)
}

// dial the relay server, authenticating the WebSocket.
func dial(ctx context.Context, opts listenOpts) (*wsClient, error) {
    var d ws.Dialer
    if opts.Header {
        d.Header = ws.HandshakeHeaderHTTP(http.Header{userHeader: []string{opts.ID}})
    }

    conn, br, _, err := d.Dial(ctx, opts.URL)
    if err != nil {
        return nil, fmt.Errorf("couldn't connect to %s: %w", opts.URL, err)
    }

    c := &wsClient{conn: conn, r: conn}
    if br != nil {
        // The server already sent something alongside the handshake.
        c.r = io.MultiReader(br, conn)
    }

    if !opts.Header {
        auth, _ := json.Marshal(map[string]string{"id": opts.ID})
        if err := c.write(ws.OpText, auth); err != nil {
            conn.Close()
            return nil, fmt.Errorf("couldn't authenticate: %w", err)
        }
    }

    return c, nil
}

// listen print every delivery received on the WebSocket to `out`, until
// either the server closes it or `ctx` is done.
func listen(ctx context.Context, opts listenOpts, out io.Writer, logger zerolog.Logger) error {
    c, err := dial(ctx, opts)
    if err != nil {
        return err
    }
    defer c.conn.Close()

    done := make(chan struct{})
    defer close(done)

    go func() {
        select {
        case <-ctx.Done():
            logger.Info().Msg("Exiting...")
            c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
            time.Sleep(time.Millisecond)
            c.conn.Close()
        case <-done:
        }
    }()

    if opts.Heartbeat > 0 {
        go func() {
            ticker := time.NewTicker(opts.Heartbeat)
            defer ticker.Stop()

            for {
                select {
                case <-ticker.C:
                    if err := c.write(ws.OpText, []byte(" ")); err != nil {
                        logger.Debug().Err(err).Msg("Couldn't send heartbeat")
                        return
                    }
                case <-done:
                    return
                }
            }
        }()
    }

    var buf [1]wsutil.Message
    for {
        msgs, err := wsutil.ReadServerMessage(c.r, buf[:0])
        if err != nil {
            if ctx.Err() != nil {
                return nil
            }
            return fmt.Errorf("couldn't read: %w", err)
        }

        for i := range msgs {
            data := &(msgs[i])
            switch data.OpCode {
            case ws.OpClose:
                code, reason := ws.ParseCloseFrameData(data.Payload)
                logger.Info().
                        Int("code", int(code)).
                        Str("reason", reason).
                        Msg("Server closed the connection")
                if code != ws.StatusNormalClosure && code != ws.StatusGoingAway {
                    return fmt.Errorf("connection closed: %d %s", code, reason)
                }
                return nil
            case ws.OpPing:
                if err := c.write(ws.OpPong, data.Payload); err != nil {
                    return fmt.Errorf("couldn't pong: %w", err)
                }
            case ws.OpText:
                handleText(data.Payload, out, logger)
            }
        }
    }
}

// handleText print deliveries and log status messages.
func handleText(payload []byte, out io.Writer, logger zerolog.Logger) {
    var status struct {
        Type string `json:"type"`
        Status string `json:"status"`
    }
    if err := json.Unmarshal(payload, &status); err == nil && len(status.Type) > 0 {
        logger.Debug().
                Str("type", status.Type).
                Str("status", status.Status).
                Msg("Status received")
        return
    }

    d, err := gochat.DecodeDelivery(string(payload))
    if err != nil {
        logger.Info().Err(err).Str("payload", string(payload)).Msg("Ignoring unknown message")
        return
    }

    sec := int64(d.Timestamp)
    nsec := int64((d.Timestamp - float64(sec)) * 1e9)
    t := time.Unix(sec, nsec).Format("2006-01-02 - 15:04:05 (-0700)")
    fmt.Fprintf(out, "%s > %s: %s [%s]\n", t, d.From, d.Message, d.MessageID)
}
