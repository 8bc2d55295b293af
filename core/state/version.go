package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout for mediator
// state. Increment this constant whenever breaking changes are made to the
// stored structure and register a Migration for the previous version.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// Migration upgrades state written by version From to version From+1.
type Migration struct {
	From  uint32
	Apply func(KV) error
}

// SetStateVersion records the provided schema version in state.
func SetStateVersion(kv KV, version uint32) error {
	if kv == nil {
		return fmt.Errorf("state: store unavailable")
	}
	return kv.KVPut(stateVersionKey, uint64(version))
}

// ReadStateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func ReadStateVersion(kv KV) (uint32, bool, error) {
	if kv == nil {
		return 0, false, fmt.Errorf("state: store unavailable")
	}
	var stored uint64
	ok, err := kv.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion brings the stored schema up to StateVersion. Empty state is
// stamped with the current version. Older state is upgraded one step at a time
// through the supplied migrations; a missing step or a newer on-disk version is
// reported as ErrStateVersionMismatch.
func EnsureStateVersion(kv KV, migrations []Migration) error {
	version, ok, err := ReadStateVersion(kv)
	if err != nil {
		return err
	}
	if !ok {
		return SetStateVersion(kv, StateVersion)
	}
	if version > StateVersion {
		return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
	}
	steps := make(map[uint32]Migration, len(migrations))
	for _, m := range migrations {
		steps[m.From] = m
	}
	for version < StateVersion {
		step, found := steps[version]
		if !found || step.Apply == nil {
			return fmt.Errorf("%w: no migration from version %d", ErrStateVersionMismatch, version)
		}
		if err := step.Apply(kv); err != nil {
			return fmt.Errorf("state: migrate from %d: %w", version, err)
		}
		version++
		if err := SetStateVersion(kv, version); err != nil {
			return err
		}
	}
	return nil
}
