// Package pebble_directory implements the Directory interface from
// https://github.com/SirGFM/go-chat-relay on top of a Pebble key-value
// store, so identities survive restarts.
//
// Each identity is stored twice, once per lookup direction:
//
//     name/<name> -> <id>
//     id/<id>     -> <name>
//
// Both keys are always written in a single synced batch.
package pebble_directory

import (
    "fmt"
    "os"
    "sync"

    gochat "github.com/SirGFM/go-chat-relay"
    "github.com/cockroachdb/pebble"
    "github.com/rs/zerolog"
)

// module is the string used when logging messages from this package.
const module = "go-chat-relay/pebble-directory"

const (
    namePrefix = "name/"
    idPrefix = "id/"
)

// Directory is a persistent gochat.Directory.
type Directory struct {
    db *pebble.DB

    // register serializes registrations, so checking whether a name is
    // taken and storing it happen atomically.
    register sync.Mutex

    logger zerolog.Logger
}

// Open, or create, the directory stored at `path`.
func Open(path string, logger zerolog.Logger) (*Directory, error) {
    if err := os.MkdirAll(path, 0700); err != nil {
        return nil, fmt.Errorf("pebble-directory: create %s: %w", path, err)
    }

    db, err := pebble.Open(path, &pebble.Options{})
    if err != nil {
        return nil, fmt.Errorf("pebble-directory: open %s: %w", path, err)
    }

    d := &Directory {
        db: db,
        logger: logger.With().Str("module", module).Logger(),
    }
    d.logger.Info().Str("path", path).Msg("Directory opened")

    return d, nil
}

// Close the underlying store.
func (d *Directory) Close() error {
    if d == nil || d.db == nil {
        return nil
    }
    return d.db.Close()
}

// get the value stored at `key`, or `gochat.NotFound`.
func (d *Directory) get(key string) (string, error) {
    v, closer, err := d.db.Get([]byte(key))
    if err == pebble.ErrNotFound {
        return "", gochat.NotFound
    } else if err != nil {
        return "", fmt.Errorf("pebble-directory: get %s: %w", key, err)
    }
    defer closer.Close()

    // v is only valid until the closer is closed.
    return string(v), nil
}

func (d *Directory) Register(name string) (gochat.Identity, error) {
    if err := gochat.ValidateName(name); err != nil {
        return gochat.Identity{}, err
    }

    d.register.Lock()
    defer d.register.Unlock()

    if _, err := d.get(namePrefix + name); err == nil {
        return gochat.Identity{}, gochat.Conflict
    } else if err != gochat.NotFound {
        return gochat.Identity{}, err
    }

    id := gochat.Identity {
        Name: name,
        ID: gochat.NewIdentityID(),
    }

    batch := d.db.NewBatch()
    defer batch.Close()
    if err := batch.Set([]byte(namePrefix + id.Name), []byte(id.ID), nil); err != nil {
        return gochat.Identity{}, fmt.Errorf("pebble-directory: register %s: %w", name, err)
    }
    if err := batch.Set([]byte(idPrefix + id.ID), []byte(id.Name), nil); err != nil {
        return gochat.Identity{}, fmt.Errorf("pebble-directory: register %s: %w", name, err)
    }
    if err := batch.Commit(pebble.Sync); err != nil {
        return gochat.Identity{}, fmt.Errorf("pebble-directory: register %s: %w", name, err)
    }

    d.logger.Debug().Str("name", id.Name).Str("id", id.ID).Msg("Identity stored")
    return id, nil
}

func (d *Directory) Resolve(name string) (string, error) {
    return d.get(namePrefix + name)
}

func (d *Directory) Identify(id string) (string, error) {
    return d.get(idPrefix + id)
}

// List every identity, sorted by name.
func (d *Directory) List() ([]gochat.Identity, error) {
    it, err := d.db.NewIter(&pebble.IterOptions {
        LowerBound: []byte(namePrefix),
        UpperBound: prefixEnd(namePrefix),
    })
    if err != nil {
        return nil, fmt.Errorf("pebble-directory: list: %w", err)
    }
    defer it.Close()

    var list []gochat.Identity
    for ok := it.First(); ok; ok = it.Next() {
        list = append(list, gochat.Identity {
            Name: string(it.Key()[len(namePrefix):]),
            ID: string(it.Value()),
        })
    }
    if err := it.Error(); err != nil {
        return nil, fmt.Errorf("pebble-directory: list: %w", err)
    }

    return list, nil
}

// prefixEnd retrieve the smallest key greater than every key starting
// with `prefix`.
func prefixEnd(prefix string) []byte {
    end := []byte(prefix)
    end[len(end) - 1]++
    return end
}
