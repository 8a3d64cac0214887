package go_chat_relay

import (
    "time"
)

// Route `body` from the identity `sender` to every live channel of
// `recipient`.
//
// Each channel receives the same delivery (and the same message ID),
// pushed independently and concurrently to every channel. A channel that
// fails to receive it, or that takes longer than `PushTimeout`, is
// closed and removed from the registry, without affecting the others.
// Nothing is queued: if the recipient has no channel, `NotConnected` is
// returned.
//
// `Route` only returns after every push finishes, so sequential calls to
// a recipient with a single channel are delivered in order.
func (s *server) Route(sender, recipient, body string) (Receipt, error) {
    logger := s.logger.With().
            Str("module", module + "/router").
            Str("from", sender).
            Str("to", recipient).
            Logger()

    if _, err := s.dir.Resolve(sender); err != nil {
        metricRoutes.WithLabelValues(Unauthorized.Code()).Inc()
        return Receipt{}, Unauthorized
    }

    recipientID, err := s.dir.Resolve(recipient)
    if err != nil {
        metricRoutes.WithLabelValues(NotFound.Code()).Inc()
        return Receipt{}, NotFound
    }

    targets := s.channels.LookupAll(recipientID)
    if len(targets) == 0 {
        logger.Debug().Msg("Recipient isn't connected; dropping the message")
        metricRoutes.WithLabelValues("not_connected").Inc()
        return Receipt{}, NotConnected
    }

    delivery := newDelivery(sender, body)
    msg, err := delivery.Encode()
    if err != nil {
        return Receipt{}, err
    }

    results := make(chan error, len(targets))
    for _, c := range targets {
        go func(c *channel) {
            results <- s.push(c, msg)
        }(c)
    }

    delivered := 0
    for range targets {
        if err := <-results; err == nil {
            delivered++
        }
    }

    logger.Debug().
            Str("message_id", delivery.MessageID).
            Int("channels", len(targets)).
            Int("delivered", delivered).
            Msg("Message routed")

    if delivered == 0 {
        metricRoutes.WithLabelValues("not_connected").Inc()
        return Receipt{}, NotConnected
    } else if delivered < len(targets) {
        metricRoutes.WithLabelValues(PushFailed.Code()).Inc()
    } else {
        metricRoutes.WithLabelValues("ok").Inc()
    }

    return Receipt {
        MessageID: delivery.MessageID,
        DeliveredTo: delivered,
    }, nil
}

// Send `body` to `recipient` on behalf of the identity whose ID is
// `credential`.
func (s *server) Send(credential, recipient, body string) (Receipt, error) {
    sender, err := s.dir.Identify(credential)
    if err != nil {
        metricRoutes.WithLabelValues(Unauthorized.Code()).Inc()
        return Receipt{}, Unauthorized
    }

    return s.Route(sender, recipient, body)
}

// push `msg` to the channel `c`, waiting at most for `PushTimeout`.
//
// If the push fails, the channel is deregistered and closed.
func (s *server) push(c *channel, msg string) error {
    done := make(chan error, 1)
    go func() {
        done <- c.send(msg)
    }()

    timer := time.NewTimer(s.conf.PushTimeout)
    defer timer.Stop()

    var err error
    select {
    case err = <-done:
    case <-timer.C:
        err = PushFailed
    }

    if err != nil {
        metricPushes.WithLabelValues("failed").Inc()
        s.drop(c, err)
        return err
    }

    metricPushes.WithLabelValues("ok").Inc()
    return nil
}

// drop a channel that failed to receive a delivery.
func (s *server) drop(c *channel, cause error) {
    s.channels.Remove(c.owner, c)

    if c.close(CloseInternalError, PushFailed.Error()) {
        if cause == ConnEOF {
            c.logger.Debug().Msg("Channel was closed before the delivery")
        } else {
            c.logger.Warn().
                    Err(cause).
                    Msg("Couldn't push the delivery; channel dropped")
        }
    }
}
