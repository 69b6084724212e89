package counter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/garethgeorge/goaccession/internal/monorange"
)

const stateSize = 16 // next value followed by its xxhash64 checksum

// File is a counter whose next value is persisted to disk before a block is
// returned, so a restarted process never hands out a block twice. Blocks
// reserved but never used by a crashed process are lost, not reissued.
//
// Advances are serialized within the process only; a File must not be shared
// by several processes.
type File struct {
	mu   sync.Mutex
	path string
	next int64
}

var _ Counter = (*File)(nil)

// OpenFile loads the counter stored at path, creating it at start if it does not exist.
func OpenFile(path string, start int64) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		f.next = start
		if err := f.persist(start); err != nil {
			return nil, err
		}
		return f, nil
	} else if err != nil {
		return nil, fmt.Errorf("read counter %s: %w", path, err)
	}

	next, err := decodeState(data)
	if err != nil {
		return nil, fmt.Errorf("load counter %s: %w", path, err)
	}
	f.next = next
	return f, nil
}

func decodeState(data []byte) (int64, error) {
	if len(data) != stateSize {
		return 0, ErrCorrupt
	}
	next := binary.LittleEndian.Uint64(data[:8])
	if xxhash.Sum64(data[:8]) != binary.LittleEndian.Uint64(data[8:]) {
		return 0, ErrCorrupt
	}
	if next > math.MaxInt64 {
		return 0, ErrCorrupt
	}
	return int64(next), nil
}

func encodeState(next int64) []byte {
	buf := make([]byte, stateSize)
	binary.LittleEndian.PutUint64(buf[:8], uint64(next))
	binary.LittleEndian.PutUint64(buf[8:], xxhash.Sum64(buf[:8]))
	return buf
}

// persist atomically replaces the state file.
func (f *File) persist(next int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp counter file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encodeState(next)); err != nil {
		tmp.Close()
		return fmt.Errorf("write counter: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close counter: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace counter %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Advance(ctx context.Context, n int64) (monorange.Range, error) {
	if err := ctx.Err(); err != nil {
		return monorange.Range{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	block, err := nextBlock(f.next, n)
	if err != nil {
		return monorange.Range{}, err
	}
	if block.End == math.MaxInt64 {
		return monorange.Range{}, fmt.Errorf("advance %d by %d: %w", f.next, n, ErrExhausted)
	}
	if err := f.persist(block.End + 1); err != nil {
		return monorange.Range{}, err
	}
	f.next = block.End + 1
	return block, nil
}

func (f *File) Peek(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, nil
}

// Path returns the location of the state file.
func (f *File) Path() string {
	return f.path
}
