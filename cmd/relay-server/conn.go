package main

import (
    "net/http"

    gochat "github.com/SirGFM/go-chat-relay"
    gochat_ws "github.com/SirGFM/go-chat-relay/gorilla-ws-conn"
    gows "github.com/gorilla/websocket"
)

// Upgrade a HTTP connection to a relay Conn.
func (s *server) newConn(w http.ResponseWriter, req *http.Request) (gochat.Conn, error) {
    opts := gochat_ws.Options {
        PingTimeout: s.args.PingTimeout,
        WriteTimeout: s.args.WriteTimeout,
        Logger: s.logger,
    }
    return gochat_ws.NewConn(s.upgrader, opts, w, req)
}

func ignoreOrigin(r *http.Request) bool {
    return true
}

func newUpgrader(args Args) gows.Upgrader {
    upgrader := gows.Upgrader {
        ReadBufferSize:  args.ReadSize,
        WriteBufferSize: args.WriteSize,
    }
    if args.IgnoreOrigin {
        upgrader.CheckOrigin = ignoreOrigin
    }

    return upgrader
}
