package go_chat_relay

import (
    "fmt"
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
    r := newRegistry()
    a1, a2, b1 := &channel{}, &channel{}, &channel{}

    require.Empty(t, r.LookupAll("a"))

    r.Add("a", a1)
    r.Add("a", a2)
    r.Add("b", b1)
    require.ElementsMatch(t, []*channel{a1, a2}, r.LookupAll("a"))
    require.ElementsMatch(t, []*channel{b1}, r.LookupAll("b"))
    require.Equal(t, 3, r.Len())

    require.True(t, r.Remove("a", a1))
    require.False(t, r.Remove("a", a1), "removing twice must be a no-op")
    require.False(t, r.Remove("b", a2), "removing from the wrong owner must be a no-op")
    require.False(t, r.Remove("c", &channel{}), "removing an unknown channel must be a no-op")

    require.Equal(t, []*channel{a2}, r.LookupAll("a"))
    require.Equal(t, 1, r.Count("a"))

    require.True(t, r.Remove("a", a2))
    require.Empty(t, r.LookupAll("a"))
    _, ok := r.channels["a"]
    assert.False(t, ok, "empty sets should be pruned")
}

// TestRegistrySnapshot check that changing the registry doesn't affect a
// previous lookup.
func TestRegistrySnapshot(t *testing.T) {
    r := newRegistry()
    a1, a2 := &channel{}, &channel{}

    r.Add("a", a1)
    snap := r.LookupAll("a")
    r.Add("a", a2)
    r.Remove("a", a1)

    require.Equal(t, []*channel{a1}, snap)
    require.Equal(t, []*channel{a2}, r.LookupAll("a"))
}

func TestRegistryConcurrent(t *testing.T) {
    const owners = 8
    const perOwner = 16

    r := newRegistry()

    var wg sync.WaitGroup
    for o := 0; o < owners; o++ {
        for i := 0; i < perOwner; i++ {
            wg.Add(1)
            go func(owner string) {
                defer wg.Done()

                c := &channel{}
                r.Add(owner, c)
                r.LookupAll(owner)
                r.Remove(owner, c)
                r.Remove(owner, c)
            }(fmt.Sprintf("owner-%d", o))
        }
    }
    wg.Wait()

    require.Equal(t, 0, r.Len())
}
