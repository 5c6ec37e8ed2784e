package cluster_state

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/vmihailenco/msgpack.v2"

	connsource "github.com/connsource/go-connsource"
)

const snapshotEntryLen = 5

// Snapshot writes every cached role to w in msgpack form. Expired entries
// are written too; their expiration travels with them.
func (c *Cache) Snapshot(w io.Writer) error {
	type snapshotEntry struct {
		e       *entry
		expires time.Time
	}

	c.mutex.Lock()
	keys := make([]string, 0, len(c.keys))
	for key := range c.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]snapshotEntry, 0, len(keys))
	for _, key := range keys {
		item := c.items.Get(key)
		if item == nil {
			delete(c.keys, key)
			continue
		}
		entries = append(entries, snapshotEntry{item.Value().(*entry), item.Expires()})
	}
	c.mutex.Unlock()

	e := msgpack.NewEncoder(w)
	if err := e.EncodeSliceLen(len(entries)); err != nil {
		return err
	}
	for _, se := range entries {
		if err := encodeEntry(e, se.e, se.expires); err != nil {
			return err
		}
	}
	return nil
}

func encodeEntry(e *msgpack.Encoder, en *entry, expires time.Time) error {
	if err := e.EncodeSliceLen(snapshotEntryLen); err != nil {
		return err
	}
	if err := e.EncodeString(en.host); err != nil {
		return err
	}
	if err := e.EncodeUint64(uint64(en.port)); err != nil {
		return err
	}
	if err := e.EncodeUint64(uint64(en.state)); err != nil {
		return err
	}
	if err := e.EncodeInt64(en.timestamp.UnixNano()); err != nil {
		return err
	}
	return e.EncodeInt64(expires.UnixNano())
}

// Restore loads roles written by Snapshot. Restored entries obey the same
// ordering as UpdateState: a cached observation newer than the restored
// one is kept.
func (c *Cache) Restore(r io.Reader) error {
	d := msgpack.NewDecoder(r)

	n, err := d.DecodeSliceLen()
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i := 0; i < n; i++ {
		var l int
		if l, err = d.DecodeSliceLen(); err != nil {
			return err
		}
		if l != snapshotEntryLen {
			return fmt.Errorf("array len doesn't match: %d", l)
		}

		var e entry
		var port, state uint64
		var timestamp, expires int64
		if e.host, err = d.DecodeString(); err != nil {
			return err
		}
		if port, err = d.DecodeUint64(); err != nil {
			return err
		}
		if state, err = d.DecodeUint64(); err != nil {
			return err
		}
		if timestamp, err = d.DecodeInt64(); err != nil {
			return err
		}
		if expires, err = d.DecodeInt64(); err != nil {
			return err
		}
		e.port = int(port)
		e.state = connsource.ClusterState(state)
		e.timestamp = time.Unix(0, timestamp)

		key := cacheKey(e.host, e.port)
		if item := c.items.Get(key); item != nil && !item.Value().(*entry).timestamp.Before(e.timestamp) {
			continue
		}
		c.setLocked(key, &e, time.Unix(0, expires))
	}
	return nil
}

// MarshalBinary returns the Snapshot of c.
func (c *Cache) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Snapshot(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary is Restore from a byte slice.
func (c *Cache) UnmarshalBinary(data []byte) error {
	return c.Restore(bytes.NewReader(data))
}
