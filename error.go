package go_chat_relay

// Error type for this package.
type RelayError uint

const (
    // A name was registered more than once.
    Conflict RelayError = iota
    // The requested name isn't registered.
    NotFound
    // The recipient is registered but has no live channel.
    NotConnected
    // The sender couldn't be resolved to a registered identity.
    Unauthorized
    // The first payload on a channel wasn't a valid authentication
    // request, or it named an unknown identity.
    ProtocolViolation
    // The channel didn't authenticate in a timely manner.
    AuthTimeout
    // A delivery couldn't be pushed to one of the recipient's channels.
    PushFailed
    // The requested name is empty, too long or has control characters.
    InvalidName
    // The connection was closed.
    ConnEOF
    // The server was closed.
    ServerClosed
)

func (e RelayError) Error() string {
    switch e {
    case Conflict:
        return "Name already registered"
    case NotFound:
        return "Identity not found"
    case NotConnected:
        return "Recipient not found or not connected"
    case Unauthorized:
        return "Sender is not a registered identity"
    case ProtocolViolation:
        return "Invalid authentication payload"
    case AuthTimeout:
        return "Channel did not authenticate in a timely manner"
    case PushFailed:
        return "Couldn't push the delivery to the channel"
    case InvalidName:
        return "Invalid name"
    case ConnEOF:
        return "Connection closed"
    case ServerClosed:
        return "Server closed"
    default:
        return "Unknown error"
    }
}

// Code maps the error into the stable taxonomy code reported to HTTP
// callers.
func (e RelayError) Code() string {
    switch e {
    case Conflict:
        return "conflict"
    case NotFound, NotConnected:
        return "not_found"
    case Unauthorized:
        return "unauthorized"
    case ProtocolViolation:
        return "protocol_violation"
    case AuthTimeout:
        return "timeout"
    case PushFailed:
        return "partial_delivery_failure"
    case InvalidName:
        return "invalid_name"
    case ConnEOF, ServerClosed:
        return "closed"
    default:
        return "internal"
    }
}

// ErrorCode retrieve the taxonomy code for any error.
func ErrorCode(err error) string {
    if re, ok := err.(RelayError); ok {
        return re.Code()
    }
    return "internal"
}

// CloseCode is sent alongside the reason when the server closes a
// channel. The values follow RFC 6455, with the application range used
// for codes the RFC doesn't define.
type CloseCode uint16

const (
    CloseNormal CloseCode = 1000
    CloseGoingAway CloseCode = 1001
    ClosePolicyViolation CloseCode = 1008
    CloseInternalError CloseCode = 1011
    // No authentication payload arrived before the deadline.
    CloseAuthTimeout CloseCode = 4408
)

func (c CloseCode) String() string {
    switch c {
    case CloseNormal:
        return "normal"
    case CloseGoingAway:
        return "going away"
    case ClosePolicyViolation:
        return "policy violation"
    case CloseInternalError:
        return "internal error"
    case CloseAuthTimeout:
        return "authentication timeout"
    default:
        return "unknown"
    }
}

// closeCodeFor return the code used to close a channel that was
// rejected with `err`.
func closeCodeFor(err error) CloseCode {
    switch err {
    case ProtocolViolation:
        return ClosePolicyViolation
    case AuthTimeout:
        return CloseAuthTimeout
    case ServerClosed:
        return CloseGoingAway
    default:
        return CloseInternalError
    }
}
