package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Snapshot file layout (all integers big-endian):
//
//	magic    [4]byte "BSNP"
//	format   uint16
//	tool     uvarint length + bytes
//	created  int64 unix milliseconds
//	count    uvarint
//	entries  count * (uvarint key length + key bytes + [16]byte hash), sorted by key
var snapshotMagic = [4]byte{'B', 'S', 'N', 'P'}

const (
	snapshotFormat = 1
	maxStringLen   = 1 << 16
	maxEntries     = 1 << 20
)

var errTrailing = errors.New("trailing bytes after last entry")

func encodeSnapshot(s *Snapshot) []byte {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.Write(binary.BigEndian.AppendUint16(nil, snapshotFormat))
	writeString(&buf, s.ToolVersion)
	buf.Write(binary.BigEndian.AppendUint64(nil, uint64(s.Created.UnixMilli())))
	entries := s.Sorted()
	buf.Write(binary.AppendUvarint(nil, uint64(len(entries))))
	for _, e := range entries {
		writeString(&buf, e.Key)
		buf.Write(e.Hash[:])
	}
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

func decodeSnapshot(b []byte) (*Snapshot, error) {
	r := bytes.NewReader(b)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("magic: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("bad magic %q", magic[:])
	}
	var format uint16
	if err := binary.Read(r, binary.BigEndian, &format); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	if format != snapshotFormat {
		return nil, fmt.Errorf("unsupported format %d", format)
	}
	tool, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("tool version: %w", err)
	}
	var millis int64
	if err := binary.Read(r, binary.BigEndian, &millis); err != nil {
		return nil, fmt.Errorf("created: %w", err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if count > maxEntries {
		return nil, fmt.Errorf("entry count %d too large", count)
	}

	s := &Snapshot{
		ToolVersion: tool,
		Created:     time.UnixMilli(millis).UTC(),
		Entries:     make(map[string]Hash, count),
	}
	for i := uint64(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d key: %w", i, err)
		}
		var h Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("entry %d hash: %w", i, err)
		}
		if _, dup := s.Entries[key]; dup {
			return nil, fmt.Errorf("duplicate entry %q", key)
		}
		s.Entries[key] = h
	}
	if r.Len() != 0 {
		return nil, errTrailing
	}
	return s, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen || n > uint64(r.Len()) {
		return "", fmt.Errorf("string length %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
