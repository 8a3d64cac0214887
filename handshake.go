package go_chat_relay

import (
    "time"
)

// handshake authenticate the channel `c`, returning the identity that
// owns it and whether it was authenticated by the out-of-band
// `credential`.
//
// A known `credential` authenticates the channel right away. Otherwise,
// the first message received on the channel must be an authentication
// payload naming a known identity. On failure, the channel is closed with
// the appropriate reason and left on `stateRejected`.
func (s *server) handshake(c *channel, credential string) (string, bool, error) {
    if len(credential) > 0 {
        if _, err := s.dir.Identify(credential); err == nil {
            return credential, true, nil
        }

        c.logger.Info().
                Str("credential", credential).
                Msg("Unknown credential; waiting for an authentication payload")
    }

    c.setState(stateAuthenticating)

    id, err := s.awaitAuth(c)
    if err != nil {
        c.setState(stateRejected)
        c.close(closeCodeFor(err), err.Error())
        metricHandshakes.WithLabelValues(ErrorCode(err)).Inc()
        return "", false, err
    }

    return id, false, nil
}

// awaitAuth wait for the first message on `c` and validate it as an
// authentication payload.
func (s *server) awaitAuth(c *channel) (string, error) {
    timer := time.NewTimer(s.conf.AuthTimeout)
    defer timer.Stop()

    select {
    case in := <-c.inbox:
        if in.err != nil {
            c.logger.Debug().
                    Err(in.err).
                    Msg("Connection closed before authenticating")
            return "", ConnEOF
        }
        c.touch()

        p := decodePayload(in.msg)
        if p.kind != payloadAuth {
            c.logger.Info().
                    Stringer("kind", p.kind).
                    Str("reason", p.reason).
                    Msg("Rejecting channel: invalid authentication payload")
            return "", ProtocolViolation
        }

        if _, err := s.dir.Identify(p.id); err != nil {
            c.logger.Info().
                    Str("id", p.id).
                    Msg("Rejecting channel: unknown identity")
            return "", ProtocolViolation
        }

        return p.id, nil
    case <-timer.C:
        c.logger.Info().
                Dur("timeout", s.conf.AuthTimeout).
                Msg("Rejecting channel: authentication timed out")
        return "", AuthTimeout
    case <-s.stop:
        return "", ServerClosed
    }
}
