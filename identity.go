package go_chat_relay

import (
    "sort"
    "strings"
    "sync"
    "unicode"
    "unicode/utf8"

    "github.com/google/uuid"
)

// Longest name accepted by `ValidateName`, in runes.
const MaxNameLength = 64

// Identity is a registered name and its opaque identifier.
type Identity struct {
    // Name chosen by the client. Unique within the directory.
    Name string `json:"name"`

    // ID generated on registration. Possessing it is what authenticates
    // a channel.
    ID string `json:"id"`
}

// Directory maps names to identities.
//
// Implementations must be safe for concurrent use. Identities are never
// deleted.
type Directory interface {
    // Register a new identity named `name`, failing with `Conflict` if the
    // name was already taken or `InvalidName` if it isn't acceptable.
    Register(name string) (Identity, error)

    // Resolve the identifier registered for `name`, or `NotFound`.
    Resolve(name string) (string, error)

    // Identify return the name that owns the identifier `id`, or
    // `NotFound`.
    Identify(id string) (string, error)

    // List every registered identity, sorted by name.
    List() ([]Identity, error)
}

// ValidateName check that `name` may be registered.
func ValidateName(name string) error {
    if len(strings.TrimSpace(name)) == 0 {
        return InvalidName
    } else if !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxNameLength {
        return InvalidName
    }

    for _, r := range name {
        if unicode.IsControl(r) {
            return InvalidName
        }
    }

    return nil
}

// NewIdentityID generate a fresh identifier for a new identity.
func NewIdentityID() string {
    return uuid.NewString()
}

// memDirectory keeps every identity in memory, for the lifetime of the
// process.
type memDirectory struct {
    // byName maps a name to its identifier.
    byName map[string]string

    // byID maps an identifier back to its name.
    byID map[string]string

    // lock synchronizes both maps.
    lock sync.RWMutex
}

// NewDirectory create an empty, in-memory Directory.
func NewDirectory() Directory {
    return &memDirectory {
        byName: make(map[string]string),
        byID: make(map[string]string),
    }
}

func (d *memDirectory) Register(name string) (Identity, error) {
    if err := ValidateName(name); err != nil {
        return Identity{}, err
    }

    d.lock.Lock()
    defer d.lock.Unlock()

    if _, ok := d.byName[name]; ok {
        return Identity{}, Conflict
    }

    id := NewIdentityID()
    d.byName[name] = id
    d.byID[id] = name

    return Identity{Name: name, ID: id}, nil
}

func (d *memDirectory) Resolve(name string) (string, error) {
    d.lock.RLock()
    id, ok := d.byName[name]
    d.lock.RUnlock()

    if !ok {
        return "", NotFound
    }
    return id, nil
}

func (d *memDirectory) Identify(id string) (string, error) {
    d.lock.RLock()
    name, ok := d.byID[id]
    d.lock.RUnlock()

    if !ok {
        return "", NotFound
    }
    return name, nil
}

func (d *memDirectory) List() ([]Identity, error) {
    d.lock.RLock()
    list := make([]Identity, 0, len(d.byName))
    for name, id := range d.byName {
        list = append(list, Identity{Name: name, ID: id})
    }
    d.lock.RUnlock()

    sort.Slice(list, func(i, j int) bool {
        return list[i].Name < list[j].Name
    })

    return list, nil
}
