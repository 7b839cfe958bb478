/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package journal is an append-only record of messaging events, kept in a
// write-ahead log for post-run analysis of a distributed render. It is never
// on the messenger hot path; drivers append events as they send and receive.
package journal

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"
	"github.com/vmihailenco/msgpack/v4"
)

// Event kinds.
const (
	EventSend    = "send"
	EventDeliver = "deliver"
)

// Event is one journaled messaging event. Time is nanoseconds since the
// Unix epoch.
type Event struct {
	Kind  string `msgpack:"kind"`
	Peer  int32  `msgpack:"peer"`
	Tag   int32  `msgpack:"tag"`
	Bytes int    `msgpack:"bytes"`
	Time  int64  `msgpack:"time"`
}

// Journal is an open message-event journal. Safe for concurrent appends.
type Journal struct {
	mutex sync.Mutex
	log   *wal.Log

	// Index of the last entry written to the underlying log (0 when empty);
	// the underlying log starts counting at 1.
	idx uint64
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	log, err := wal.Open(path, &wal.Options{
		NoSync: true,
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open journal")
	}

	idx, err := log.LastIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "failed obtaining last journal index")
	}

	return &Journal{log: log, idx: idx}, nil
}

// Append writes one event to the journal.
func (j *Journal) Append(ev Event) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return errors.WithMessage(err, "could not encode journal event")
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	if err := j.log.Write(j.idx+1, data); err != nil {
		return errors.WithMessage(err, "could not append journal event")
	}
	j.idx++
	return nil
}

// Iterate calls f for every event in the journal, oldest first. Iteration
// stops at the first error returned by f.
func (j *Journal) Iterate(f func(Event) error) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	first, err := j.log.FirstIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read first journal index")
	}
	if first == 0 {
		return nil
	}

	for i := first; i <= j.idx; i++ {
		data, err := j.log.Read(i)
		if err != nil {
			return errors.WithMessagef(err, "could not read journal entry %d", i)
		}
		var ev Event
		if err := msgpack.Unmarshal(data, &ev); err != nil {
			return errors.WithMessagef(err, "could not decode journal entry %d", i)
		}
		if err := f(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying log.
func (j *Journal) Close() error {
	return j.log.Close()
}
