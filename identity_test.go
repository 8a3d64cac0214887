package go_chat_relay

import (
    "strings"
    "sync"
    "testing"

    "github.com/stretchr/testify/require"
)

// TestDirectoryRegister check that names are unique and that each new
// name adds exactly one identity.
func TestDirectoryRegister(t *testing.T) {
    dir := NewDirectory()

    names := []string{"alice", "bob", "carol"}
    for i, name := range names {
        id, err := dir.Register(name)
        require.NoError(t, err)
        require.Equal(t, name, id.Name)
        require.NotEmpty(t, id.ID)

        _, err = dir.Register(name)
        require.Equal(t, Conflict, err, "registering %s twice should conflict", name)

        list, err := dir.List()
        require.NoError(t, err)
        require.Len(t, list, i + 1)
    }

    list, err := dir.List()
    require.NoError(t, err)
    for i, name := range names {
        require.Equal(t, name, list[i].Name, "list should be sorted by name")
    }
}

// TestDirectoryResolve check the mapping in both directions.
func TestDirectoryResolve(t *testing.T) {
    dir := NewDirectory()

    alice, err := dir.Register("alice")
    require.NoError(t, err)

    id, err := dir.Resolve("alice")
    require.NoError(t, err)
    require.Equal(t, alice.ID, id)

    name, err := dir.Identify(alice.ID)
    require.NoError(t, err)
    require.Equal(t, "alice", name)

    _, err = dir.Resolve("bob")
    require.Equal(t, NotFound, err)

    _, err = dir.Identify("not-an-id")
    require.Equal(t, NotFound, err)
}

// TestDirectoryConcurrentRegister check that, out of many concurrent
// registrations of the same name, exactly one succeeds.
func TestDirectoryConcurrentRegister(t *testing.T) {
    const workers = 32

    dir := NewDirectory()

    var wg sync.WaitGroup
    results := make(chan error, workers)
    for i := 0; i < workers; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            _, err := dir.Register("dup")
            results <- err
        }()
    }
    wg.Wait()
    close(results)

    ok := 0
    for err := range results {
        if err == nil {
            ok++
        } else {
            require.Equal(t, Conflict, err)
        }
    }
    require.Equal(t, 1, ok)
}

func TestValidateName(t *testing.T) {
    for _, tc := range []struct {
        name string
        valid bool
    } {
        {"alice", true},
        {"Alice Smith", true},
        {"ünïcødé", true},
        {"", false},
        {"   ", false},
        {"new\nline", false},
        {strings.Repeat("a", MaxNameLength), true},
        {strings.Repeat("a", MaxNameLength + 1), false},
        {string([]byte{0xff, 0xfe}), false},
    } {
        err := ValidateName(tc.name)
        if tc.valid {
            require.NoError(t, err, "%q should be valid", tc.name)
        } else {
            require.Equal(t, InvalidName, err, "%q should be invalid", tc.name)
        }
    }

    _, err := NewDirectory().Register("")
    require.Equal(t, InvalidName, err)
}
