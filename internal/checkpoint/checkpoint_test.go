package checkpoint

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/garethgeorge/goaccession/internal/monorange"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestWriteRead(t *testing.T) {
	testCases := []struct {
		name  string
		state State
	}{
		{"empty pool", State{Version: Version, HighWater: 1000}},
		{"negative values", State{Version: Version, HighWater: -5, Free: []monorange.Range{monorange.MustNew(-20, -10)}}},
		{
			"several ranges",
			State{Version: Version, HighWater: 5000, Free: []monorange.Range{
				monorange.MustNew(3, 4),
				monorange.MustNew(100, 199),
				monorange.Single(4000),
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tc.state))

			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.state, got)
		})
	}
}

func TestWriteDefaultsVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, State{HighWater: 7}))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(Version), got.Version)
	assert.Equal(t, int64(7), got.HighWater)
}

func TestWriteRejectsOverlappingRanges(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, State{HighWater: 10, Free: []monorange.Range{monorange.MustNew(0, 5), monorange.MustNew(5, 9)}})
	assert.Error(t, err)
}

func TestWriteRejectsRangesAtHighWater(t *testing.T) {
	testCases := []struct {
		name  string
		state State
	}{
		{"ends at high water", State{HighWater: 9, Free: []monorange.Range{monorange.MustNew(0, 9)}}},
		{"beyond high water", State{HighWater: 3, Free: []monorange.Range{monorange.MustNew(0, 4)}}},
		{"empty counter", State{Free: []monorange.Range{monorange.Single(0)}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.ErrorIs(t, Write(&buf, tc.state), ErrCorrupt)
			assert.Zero(t, buf.Len())
		})
	}
}

// rawCheckpoint builds a checkpoint from raw records, bypassing Write's validation.
func rawCheckpoint(t *testing.T, records [][]byte, corruptSum bool) []byte {
	t.Helper()
	var plain bytes.Buffer
	for _, r := range records {
		var size [2]byte
		binary.LittleEndian.PutUint16(size[:], uint16(len(r)))
		plain.Write(size[:])
		plain.Write(r)
	}
	sum := make([]byte, 8)
	binary.LittleEndian.PutUint64(sum, xxhash.Sum64(plain.Bytes()))
	if corruptSum {
		sum[0] ^= 0xff
	}
	plain.Write(sum)

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out)
	require.NoError(t, err)
	_, err = zw.Write(plain.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func header(version, highWater, count int64) []byte {
	b := appendSint64(nil, fieldVersion, version)
	b = appendSint64(b, fieldHighWater, highWater)
	return appendSint64(b, fieldCount, count)
}

func rangeRecord(start, end int64) []byte {
	b := appendSint64(nil, fieldStart, start)
	return appendSint64(b, fieldEnd, end)
}

func TestReadErrors(t *testing.T) {
	t.Run("not zstd", func(t *testing.T) {
		_, err := Read(bytes.NewReader([]byte("definitely not a checkpoint")))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Read(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 10, 1), rangeRecord(0, 5)}, true)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unsupported version", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(99, 10, 0)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("missing ranges", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 10, 2), rangeRecord(0, 5)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("invalid range", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 10, 1), rangeRecord(6, 5)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, monorange.ErrInvalidRange)
	})

	t.Run("overlapping ranges", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 10, 2), rangeRecord(0, 5), rangeRecord(5, 6)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("range beyond high water", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 3, 1), rangeRecord(0, 4)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("range ending at high water", func(t *testing.T) {
		data := rawCheckpoint(t, [][]byte{header(Version, 5, 1), rangeRecord(0, 5)}, false)
		_, err := Read(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, State{HighWater: 10, Free: []monorange.Range{monorange.MustNew(0, 5)}}))
		data := buf.Bytes()
		_, err := Read(bytes.NewReader(data[:len(data)/2]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestReadSkipsUnknownFields(t *testing.T) {
	rec := rangeRecord(1, 2)
	rec = protowire.AppendTag(rec, 9, protowire.BytesType)
	rec = protowire.AppendBytes(rec, []byte("future"))
	data := rawCheckpoint(t, [][]byte{header(Version, 10, 1), rec}, false)

	got, err := Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []monorange.Range{monorange.MustNew(1, 2)}, got.Free)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.ckpt")
	state := State{Version: Version, HighWater: 42, Free: []monorange.Range{monorange.MustNew(10, 12)}}

	require.NoError(t, Save(path, state))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Load(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
