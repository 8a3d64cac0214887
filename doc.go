/*
Package go_chat_relay implements a minimal, connection-agnostic message
relay.

Clients register a name to obtain an identity, open a persistent
connection authenticated by that identity and then receive every message
addressed to their name. The relay is divided into a few components:

 - `RelayServer`: The interface for the actual server
 - `Directory`: Maps names to identities
 - `Conn`: A connection to the remote client

Internally, the server also keeps a registry of every authenticated
connection (a `channel`), indexed by the identity that owns it. A single
identity may own any number of channels at once (e.g., one per device).

The first step is to instantiate the server through either `NewServer` or
`NewServerConf`. The second one allows customizing timeouts, the logger
and the `Directory`:

    conf := go_chat_relay.GetDefaultServerConf()
    // Modify 'conf' as desired
    server := go_chat_relay.NewServerConf(conf)

Identities are registered by name. Names are unique, so registering the
same name twice fails with `Conflict`:

    id, err := server.Register("alice")
    if err != nil {
        // Handle the error
    }

    // XXX: Return id.ID to the requester

Possessing the identity's ID is all that's required to authenticate a
connection. The caller upgrades the connection however it sees fit (the
`gorilla-ws-conn` package implements `Conn` over a WebSocket) and hands
it to the server, optionally alongside a credential that was supplied
when the connection was opened (an HTTP header, for example):

    var conn Conn
    err := server.ConnectAndWait(credential, conn)
    if err != nil {
        // The handshake was rejected and conn is already closed.
    }

If the credential is empty or unknown, the first message received from
the connection must be an authentication payload, `{"id": "<ID>"}`. A
malformed payload or an unknown ID closes the connection with
`ClosePolicyViolation`, and not receiving anything within
`ServerConf.AuthTimeout` closes it with `CloseAuthTimeout`. On success,
the server replies with:

    {"type": "connection_status", "status": "ok"}

From then on, empty (or whitespace-only) messages are heartbeats and are
answered with `{"type": "heartbeat", "status": "ok"}`. Anything else
received from the connection is ignored.

Messages are routed by name. Routing fails if the sender isn't
registered (`Unauthorized`), if the recipient isn't registered
(`NotFound`) or if it doesn't have any connection (`NotConnected`), as
messages are never queued:

    receipt, err := server.Route("alice", "bob", "hi")

Otherwise, the following delivery is pushed to every connection of the
recipient, all sharing the same message ID:

    {"from": "alice", "message": "hi", "message_id": "...", "timestamp": 1700000000.5}

Connections that fail to receive a delivery are closed and removed from
the server, but the message is still delivered to the recipient's other
connections.
*/
package go_chat_relay
