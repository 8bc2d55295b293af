package state

import (
	"errors"

	"omnibridge/storage"
)

var errJournalClosed = errors.New("state: journal already committed or discarded")

type pending struct {
	value   []byte
	deleted bool
}

type undo struct {
	key     string
	prev    pending
	existed bool
}

// Journal buffers writes on top of a Manager. Reads see the buffered writes
// first. Nothing reaches the database until Commit, which applies every write in
// one atomic batch.
type Journal struct {
	base   *Manager
	dirty  map[string]pending
	undo   []undo
	closed bool
}

// Begin opens a journal over the manager.
func (m *Manager) Begin() *Journal {
	return &Journal{base: m, dirty: make(map[string]pending)}
}

func (j *Journal) rawGet(hashed []byte) ([]byte, error) {
	if j.closed {
		return nil, errJournalClosed
	}
	if p, ok := j.dirty[string(hashed)]; ok {
		if p.deleted {
			return nil, nil
		}
		return append([]byte(nil), p.value...), nil
	}
	return j.base.rawGet(hashed)
}

func (j *Journal) record(key string) {
	prev, existed := j.dirty[key]
	j.undo = append(j.undo, undo{key: key, prev: prev, existed: existed})
}

func (j *Journal) rawPut(hashed []byte, value []byte) error {
	if j.closed {
		return errJournalClosed
	}
	key := string(hashed)
	j.record(key)
	j.dirty[key] = pending{value: append([]byte(nil), value...)}
	return nil
}

func (j *Journal) rawDelete(hashed []byte) error {
	if j.closed {
		return errJournalClosed
	}
	key := string(hashed)
	j.record(key)
	j.dirty[key] = pending{deleted: true}
	return nil
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int { return len(j.undo) }

// RevertToSnapshot drops every write made after the snapshot was taken.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id > len(j.undo) {
		return
	}
	for i := len(j.undo) - 1; i >= id; i-- {
		u := j.undo[i]
		if u.existed {
			j.dirty[u.key] = u.prev
		} else {
			delete(j.dirty, u.key)
		}
	}
	j.undo = j.undo[:id]
}

// Commit writes the buffered changes to the database atomically.
func (j *Journal) Commit() error {
	if j.closed {
		return errJournalClosed
	}
	batch := new(storage.Batch)
	for key, p := range j.dirty {
		if p.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), p.value)
	}
	if err := j.base.db.Write(batch); err != nil {
		return err
	}
	j.closed = true
	return nil
}

// Discard drops the buffered changes.
func (j *Journal) Discard() {
	j.dirty = nil
	j.undo = nil
	j.closed = true
}

func (j *Journal) KVPut(key []byte, value interface{}) error       { return kvPut(j, key, value) }
func (j *Journal) KVGet(key []byte, out interface{}) (bool, error) { return kvGet(j, key, out) }
func (j *Journal) KVDelete(key []byte) error                       { return kvDelete(j, key) }
func (j *Journal) KVAppend(key []byte, value []byte) error         { return kvAppend(j, key, value) }
func (j *Journal) KVGetList(key []byte, out interface{}) error     { return kvGetList(j, key, out) }
