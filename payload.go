package go_chat_relay

import (
    "encoding/json"
    "strings"
    "time"

    "github.com/google/uuid"
)

// payloadKind classifies every payload received from a channel.
type payloadKind uint8

const (
    // Empty or whitespace-only payload.
    payloadHeartbeat payloadKind = iota
    // JSON object with a non-empty string `id`.
    payloadAuth
    // Anything else.
    payloadUnrecognized
)

func (k payloadKind) String() string {
    switch k {
    case payloadHeartbeat:
        return "heartbeat"
    case payloadAuth:
        return "auth"
    default:
        return "unrecognized"
    }
}

// payload is the decoded form of an inbound message.
type payload struct {
    kind payloadKind

    // id requested by an authentication payload.
    id string

    // reason describes why a payload is unrecognized.
    reason string
}

// authRequest is the first message sent by a client that didn't
// authenticate out-of-band.
type authRequest struct {
    ID *json.RawMessage `json:"id"`
}

// decodePayload classify `raw` into exactly one payload kind.
func decodePayload(raw string) payload {
    if len(strings.TrimSpace(raw)) == 0 {
        return payload{kind: payloadHeartbeat}
    }

    var req authRequest
    if err := json.Unmarshal([]byte(raw), &req); err != nil {
        return payload{kind: payloadUnrecognized, reason: "malformed payload"}
    } else if req.ID == nil {
        return payload{kind: payloadUnrecognized, reason: "missing id"}
    }

    var id string
    if err := json.Unmarshal(*req.ID, &id); err != nil {
        return payload{kind: payloadUnrecognized, reason: "id is not a string"}
    } else if len(id) == 0 {
        return payload{kind: payloadUnrecognized, reason: "empty id"}
    }

    return payload{kind: payloadAuth, id: id}
}

// statusEnvelope is sent by the server to acknowledge something on the
// channel itself.
type statusEnvelope struct {
    Type string `json:"type"`
    Status string `json:"status"`
}

// Pre-encoded status envelopes.
var (
    ackEnvelope = mustEncode(statusEnvelope{Type: "connection_status", Status: "ok"})
    heartbeatEnvelope = mustEncode(statusEnvelope{Type: "heartbeat", Status: "ok"})
)

// Delivery is a routed message, as pushed to each of the recipient's
// channels.
type Delivery struct {
    // Name of the sender.
    From string `json:"from"`

    // Message body.
    Message string `json:"message"`

    // MessageID is shared by every channel that receives this delivery.
    MessageID string `json:"message_id"`

    // Timestamp in seconds since the Unix epoch.
    Timestamp float64 `json:"timestamp"`
}

// newDelivery create a new delivery from `from`, timestamped with the
// current time.
func newDelivery(from, msg string) Delivery {
    now := time.Now()

    return Delivery {
        From: from,
        Message: msg,
        MessageID: uuid.NewString(),
        Timestamp: float64(now.UnixNano()) / float64(time.Second),
    }
}

// Encode the delivery into the string sent to channels.
func (d Delivery) Encode() (string, error) {
    data, err := json.Marshal(d)
    if err != nil {
        return "", err
    }
    return string(data), nil
}

// DecodeDelivery parse a delivery previously encoded by `Encode`.
func DecodeDelivery(raw string) (Delivery, error) {
    var d Delivery
    err := json.Unmarshal([]byte(raw), &d)
    return d, err
}

func mustEncode(v interface{}) string {
    data, err := json.Marshal(v)
    if err != nil {
        panic("go_chat_relay/payload: " + err.Error())
    }
    return string(data)
}
