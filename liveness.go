package go_chat_relay

import (
    "time"
)

// supervise an authenticated channel until it gets closed.
//
// Empty messages are heartbeats, and are answered right away. Anything
// else is logged and dropped. If `grace` is positive, the first
// non-heartbeat message received within that period is expected to be a
// duplicated authentication payload and is silently ignored.
//
// Closing the channel is left to the caller.
func (s *server) supervise(c *channel, grace time.Duration) {
    var graceC <-chan time.Time
    if grace > 0 {
        timer := time.NewTimer(grace)
        defer timer.Stop()
        graceC = timer.C
    }

    for {
        select {
        case in := <-c.inbox:
            if in.err != nil {
                c.logger.Info().
                        Err(in.err).
                        Time("last_activity", c.lastActivity()).
                        Msg("Connection closed by the remote endpoint")
                return
            }
            c.touch()

            p := decodePayload(in.msg)
            inGrace := graceC != nil
            if p.kind != payloadHeartbeat {
                graceC = nil
            }

            if !s.handleInbound(c, p, inGrace) {
                return
            }
        case <-graceC:
            graceC = nil
        case <-c.stop:
            // Closed by somebody else, most likely due to a failed
            // delivery.
            return
        case <-s.stop:
            c.close(CloseGoingAway, ServerClosed.Error())
            return
        }
    }
}

// handleInbound process a single message received on an authenticated
// channel, reporting whether the channel is still usable.
func (s *server) handleInbound(c *channel, p payload, inGrace bool) bool {
    switch p.kind {
    case payloadHeartbeat:
        metricHeartbeats.Inc()
        if err := c.send(heartbeatEnvelope); err != nil {
            c.logger.Info().
                    Err(err).
                    Msg("Couldn't answer the heartbeat")
            return false
        }
    case payloadAuth:
        if inGrace && p.id == c.owner {
            c.logger.Debug().Msg("Ignoring duplicated authentication payload")
        } else {
            c.logger.Info().
                    Str("id", p.id).
                    Msg("Ignoring authentication payload on an authenticated channel")
        }
    default:
        c.logger.Info().
                Str("reason", p.reason).
                Msg("Ignoring unrecognized message")
    }

    return true
}
