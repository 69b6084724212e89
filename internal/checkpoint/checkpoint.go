// Package checkpoint persists the reuse pool of a block allocator so reclaimed
// identifiers survive a restart.
//
// A checkpoint is a zstd stream of records, each prefixed by its length as a
// little endian uint16. Records are protobuf wire messages: one header
// (version, counter high water, range count) followed by one record per free
// range. The stream ends with the xxhash64 of every byte before it.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/garethgeorge/goaccession/internal/monorange"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

const Version = 1

var (
	ErrCorrupt            = errors.New("checkpoint is corrupt")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

// State is the allocator state captured by a checkpoint.
type State struct {
	Version int64
	// HighWater is the next value the lease counter would hand out.
	HighWater int64
	// Free holds the reusable ranges, ascending and disjoint.
	Free []monorange.Range
}

const (
	fieldVersion   protowire.Number = 1
	fieldHighWater protowire.Number = 2
	fieldCount     protowire.Number = 3

	fieldStart protowire.Number = 1
	fieldEnd   protowire.Number = 2
)

type recordWriter struct {
	w   io.Writer
	buf []byte
}

func (rw *recordWriter) write(record []byte) error {
	if len(record) >= 1<<16 {
		return fmt.Errorf("record of %d bytes is too large", len(record))
	}
	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(len(record)))
	if _, err := rw.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := rw.w.Write(record)
	return err
}

func appendSint64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// Write encodes state to w.
func Write(w io.Writer, state State) error {
	if !monorange.IsDisjointSorted(state.Free) {
		return errors.New("free ranges must be ascending and disjoint")
	}
	if err := checkHighWater(state); err != nil {
		return err
	}
	version := state.Version
	if version == 0 {
		version = Version
	}

	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderCRC(true),
		zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	hasher := xxhash.New()
	rw := &recordWriter{w: io.MultiWriter(zw, hasher), buf: make([]byte, 0, 64)}

	header := appendSint64(rw.buf[:0], fieldVersion, version)
	header = appendSint64(header, fieldHighWater, state.HighWater)
	header = appendSint64(header, fieldCount, int64(len(state.Free)))
	if err := rw.write(header); err != nil {
		zw.Close()
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range state.Free {
		record := appendSint64(rw.buf[:0], fieldStart, r.Start)
		record = appendSint64(record, fieldEnd, r.End)
		if err := rw.write(record); err != nil {
			zw.Close()
			return fmt.Errorf("write range %v: %w", r, err)
		}
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], hasher.Sum64())
	if _, err := zw.Write(sum[:]); err != nil {
		zw.Close()
		return fmt.Errorf("write checksum: %w", err)
	}
	return zw.Close()
}

type recordReader struct {
	r      io.Reader
	hasher *xxhash.Digest
	buf    []byte
}

func (rr *recordReader) read() ([]byte, error) {
	var sizeBuf [2]byte
	if _, err := io.ReadFull(rr.r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint16(sizeBuf[:]))
	if cap(rr.buf) < size {
		rr.buf = make([]byte, size)
	}
	rr.buf = rr.buf[:size]
	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return nil, err
	}
	rr.hasher.Write(sizeBuf[:])
	rr.hasher.Write(rr.buf)
	return rr.buf, nil
}

// parseFields decodes a record of sint64 fields. Unknown fields are skipped.
func parseFields(b []byte, fields map[protowire.Number]*int64) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if dst, ok := fields[num]; ok && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			*dst = protowire.DecodeZigZag(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// Read decodes a checkpoint written by Write.
func Read(r io.Reader) (State, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer zr.Close()

	rr := &recordReader{r: zr, hasher: xxhash.New()}
	record, err := rr.read()
	if err != nil {
		return State{}, fmt.Errorf("read header: %w: %w", ErrCorrupt, err)
	}

	var state State
	var count int64
	if err := parseFields(record, map[protowire.Number]*int64{
		fieldVersion:   &state.Version,
		fieldHighWater: &state.HighWater,
		fieldCount:     &count,
	}); err != nil {
		return State{}, fmt.Errorf("parse header: %w: %w", ErrCorrupt, err)
	}
	if state.Version != Version {
		return State{}, fmt.Errorf("version %d: %w", state.Version, ErrUnsupportedVersion)
	}
	if count < 0 {
		return State{}, fmt.Errorf("negative range count %d: %w", count, ErrCorrupt)
	}

	for i := int64(0); i < count; i++ {
		record, err := rr.read()
		if err != nil {
			return State{}, fmt.Errorf("read range %d: %w: %w", i, ErrCorrupt, err)
		}
		var start, end int64
		if err := parseFields(record, map[protowire.Number]*int64{
			fieldStart: &start,
			fieldEnd:   &end,
		}); err != nil {
			return State{}, fmt.Errorf("parse range %d: %w: %w", i, ErrCorrupt, err)
		}
		free, err := monorange.New(start, end)
		if err != nil {
			return State{}, fmt.Errorf("range %d: %w", i, err)
		}
		state.Free = append(state.Free, free)
	}

	var sum [8]byte
	if _, err := io.ReadFull(zr, sum[:]); err != nil {
		return State{}, fmt.Errorf("read checksum: %w: %w", ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint64(sum[:]) != rr.hasher.Sum64() {
		return State{}, fmt.Errorf("checksum mismatch: %w", ErrCorrupt)
	}
	if !monorange.IsDisjointSorted(state.Free) {
		return State{}, fmt.Errorf("free ranges overlap: %w", ErrCorrupt)
	}
	if err := checkHighWater(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save atomically writes state to path.
func Save(path string, state State) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, state); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace checkpoint %s: %w", path, err)
	}
	return nil
}

// Load reads the checkpoint stored at path.
func Load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()
	state, err := Read(f)
	if err != nil {
		return State{}, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	return state, nil
}

// checkHighWater rejects free ranges the counter has not issued yet.
func checkHighWater(state State) error {
	if n := len(state.Free); n > 0 && state.Free[n-1].End >= state.HighWater {
		return fmt.Errorf("free range %v reaches high water %d: %w", state.Free[n-1], state.HighWater, ErrCorrupt)
	}
	return nil
}
