package pmtx

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T) *Arena {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.pm")
	a, err := Create(path, 4<<20)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAllocAndCommit(t *testing.T) {
	a := newTestArena(t)
	var off Addr
	err := a.Do(func(tx *Tx) error {
		var err error
		off, err = tx.Alloc(16)
		if err != nil {
			return err
		}
		tx.Put(off, []byte("hello world!!!!!"))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "hello world!!!!!", string(a.At(off, 16)))
}

func TestAbortRollsBackUndoLog(t *testing.T) {
	a := newTestArena(t)
	var off Addr
	err := a.Do(func(tx *Tx) error {
		var err error
		off, err = tx.Alloc(8)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, a.Do(func(tx *Tx) error {
		require.NoError(t, tx.Add(off, 8))
		tx.Put(off, []byte("AAAAAAAA"))
		return nil
	}))

	boom := errors.New("boom")
	err = a.Do(func(tx *Tx) error {
		require.NoError(t, tx.Add(off, 8))
		tx.Put(off, []byte("BBBBBBBB"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, "AAAAAAAA", string(a.At(off, 8)))
}

func TestPanicAborts(t *testing.T) {
	a := newTestArena(t)
	var off Addr
	require.NoError(t, a.Do(func(tx *Tx) error {
		var err error
		off, err = tx.Alloc(4)
		if err != nil {
			return err
		}
		tx.Put(off, []byte("good"))
		return nil
	}))
	func() {
		defer func() { recover() }()
		a.Do(func(tx *Tx) error {
			require.NoError(t, tx.Add(off, 4))
			tx.Put(off, []byte("bad!"))
			panic("injected")
		})
	}()
	require.Equal(t, "good", string(a.At(off, 4)))
}

func TestReopenReplaysPendingUndo(t *testing.T) {
	a := newTestArena(t)
	var off Addr
	require.NoError(t, a.Do(func(tx *Tx) error {
		var err error
		off, err = tx.Alloc(4)
		if err != nil {
			return err
		}
		tx.Put(off, []byte("orig"))
		return nil
	}))

	// Simulate a crash mid-transaction: persist an undo log without
	// clearing it or applying the in-memory mutation's commit step.
	tx := &Tx{arena: a}
	require.NoError(t, tx.Add(off, 4))
	tx.Put(off, []byte("torn"))
	tx.persistUndoLog()

	require.NoError(t, a.Close())
	a2, err := Open(a.file.Name())
	require.NoError(t, err)
	defer a2.Close()
	require.Equal(t, "orig", string(a2.At(off, 4)))
}
