package go_chat_relay

import (
    "sync"
)

// registry maps an identity's ID to every channel currently
// authenticated as that identity.
//
// Channels must only be added after authenticating, and every channel
// must be removed when it closes. Removal is idempotent, so the read loop
// and a failed delivery may both try to clean up the same channel.
type registry struct {
    // channels indexed by their owner. Empty sets are removed.
    channels map[string]map[*channel]struct{}

    // lock synchronizes `channels`.
    lock sync.RWMutex
}

// newRegistry create an empty registry.
func newRegistry() *registry {
    return &registry {
        channels: make(map[string]map[*channel]struct{}),
    }
}

// Add register `c` as one of the channels owned by `id`.
func (r *registry) Add(id string, c *channel) {
    r.lock.Lock()
    set, ok := r.channels[id]
    if !ok {
        set = make(map[*channel]struct{})
        r.channels[id] = set
    }
    _, dup := set[c]
    set[c] = struct{}{}
    r.lock.Unlock()

    if !dup {
        metricChannelsActive.Inc()
    }
}

// Remove `c` from the channels owned by `id`, reporting whether it was
// registered. Removing an unknown channel is a no-op.
func (r *registry) Remove(id string, c *channel) bool {
    r.lock.Lock()
    set, ok := r.channels[id]
    if ok {
        _, ok = set[c]
        if ok {
            delete(set, c)
            if len(set) == 0 {
                delete(r.channels, id)
            }
        }
    }
    r.lock.Unlock()

    if ok {
        metricChannelsActive.Dec()
    }
    return ok
}

// LookupAll return a snapshot of the channels owned by `id`.
//
// Channels in the snapshot may close at any moment, so callers must
// tolerate failing to use them.
func (r *registry) LookupAll(id string) []*channel {
    r.lock.RLock()
    defer r.lock.RUnlock()

    set := r.channels[id]
    list := make([]*channel, 0, len(set))
    for c := range set {
        list = append(list, c)
    }

    return list
}

// Count the channels owned by `id`.
func (r *registry) Count(id string) int {
    r.lock.RLock()
    defer r.lock.RUnlock()

    return len(r.channels[id])
}

// Len count every registered channel.
func (r *registry) Len() int {
    r.lock.RLock()
    defer r.lock.RUnlock()

    n := 0
    for _, set := range r.channels {
        n += len(set)
    }
    return n
}
