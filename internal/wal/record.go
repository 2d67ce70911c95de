package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"

	"github.com/reynaldliu/milvus/model"
)

// Kind identifies the type of WAL record, per the write path's three record
// kinds: INSERT, DELETE, FLUSH.
type Kind uint8

const (
	KindInsert Kind = 1
	KindDelete Kind = 2
	KindFlush  Kind = 3
)

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidKind    = errors.New("invalid WAL record kind")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// Record is a single WAL entry: { lsn, kind, collection_id, partition_tag?, payload }.
// Payload for INSERT is the dense vector batch plus ids; for DELETE the id
// list; FLUSH carries only the collection id whose memory was flushed.
type Record struct {
	LSN          model.LSN
	Kind         Kind
	CollectionID string
	PartitionTag string
	IDs          []model.PrimaryKey
	Vectors      [][]float32 // len(Vectors) == len(IDs) for INSERT
}

const recordHeaderSize = 4 + 1 + 8 + 4 // CRC + Kind + LSN + Length

// Encode writes the record to w.
//
// Wire format: [CRC32: 4][Kind: 1][LSN: 8][Length: 4][Payload: Length]
// Payload (INSERT): [CollLen:4][Coll][TagLen:4][Tag][Dim:4][Count:4]{[PK:8][Vec:Dim*4]}*Count
// Payload (DELETE): [CollLen:4][Coll][Count:4][PK:8]*Count
// Payload (FLUSH):  [CollLen:4][Coll]
func (r *Record) Encode(w io.Writer) error {
	payload, err := r.marshalPayload()
	if err != nil {
		return err
	}

	header := make([]byte, 1+8+4)
	header[0] = byte(r.Kind)
	binary.LittleEndian.PutUint64(header[1:], uint64(r.LSN))
	binary.LittleEndian.PutUint32(header[9:], uint32(len(payload)))

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(payload)
	checksum := crc.Sum32()

	buf := make([]byte, 4, 4+len(header)+len(payload))
	binary.LittleEndian.PutUint32(buf, checksum)
	buf = append(buf, header...)
	buf = append(buf, payload...)

	_, err = w.Write(buf)
	return err
}

// Size returns the encoded length of the record in bytes.
func (r *Record) Size() int {
	payload, err := r.marshalPayload()
	if err != nil {
		return 0
	}
	return recordHeaderSize + len(payload)
}

func (r *Record) marshalPayload() ([]byte, error) {
	switch r.Kind {
	case KindInsert:
		return r.marshalInsert(), nil
	case KindDelete:
		return r.marshalDelete(), nil
	case KindFlush:
		return r.marshalFlush(), nil
	default:
		return nil, ErrInvalidKind
	}
}

func (r *Record) marshalInsert() []byte {
	dim := 0
	if len(r.Vectors) > 0 {
		dim = len(r.Vectors[0])
	}
	size := 4 + len(r.CollectionID) + 4 + len(r.PartitionTag) + 4 + 4
	size += len(r.IDs) * (8 + dim*4)

	buf := make([]byte, size)
	off := putString(buf, 0, r.CollectionID)
	off = putString(buf, off, r.PartitionTag)
	binary.LittleEndian.PutUint32(buf[off:], uint32(dim))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.IDs)))
	off += 4
	for i, pk := range r.IDs {
		binary.LittleEndian.PutUint64(buf[off:], uint64(pk))
		off += 8
		for _, v := range r.Vectors[i] {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

func (r *Record) marshalDelete() []byte {
	size := 4 + len(r.CollectionID) + 4 + len(r.IDs)*8
	buf := make([]byte, size)
	off := putString(buf, 0, r.CollectionID)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.IDs)))
	off += 4
	for _, pk := range r.IDs {
		binary.LittleEndian.PutUint64(buf[off:], uint64(pk))
		off += 8
	}
	return buf
}

func (r *Record) marshalFlush() []byte {
	buf := make([]byte, 4+len(r.CollectionID))
	putString(buf, 0, r.CollectionID)
	return buf
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s)))
	off += 4
	copy(buf[off:], s)
	return off + len(s)
}

// maxRecordPayload bounds a single record so a corrupted length field can't
// force an unbounded allocation during replay.
const maxRecordPayload = 256 * 1024 * 1024

// Decode reads one record from r, returning the record and its encoded size.
func Decode(r io.Reader) (*Record, int64, error) {
	var checksum uint32
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return nil, 0, err
	}

	header := make([]byte, 1+8+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 4, err
	}

	kind := Kind(header[0])
	lsn := model.LSN(binary.LittleEndian.Uint64(header[1:]))
	length := binary.LittleEndian.Uint32(header[9:])
	if length > maxRecordPayload {
		return nil, 4 + recordHeaderSize - 4, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 4 + recordHeaderSize - 4, err
	}

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(payload)
	if crc.Sum32() != checksum {
		return nil, int64(recordHeaderSize) + int64(length), ErrInvalidCRC
	}

	rec := &Record{Kind: kind, LSN: lsn}
	var err error
	switch kind {
	case KindInsert:
		err = rec.unmarshalInsert(payload)
	case KindDelete:
		err = rec.unmarshalDelete(payload)
	case KindFlush:
		err = rec.unmarshalFlush(payload)
	default:
		err = ErrInvalidKind
	}
	if err != nil {
		return nil, int64(recordHeaderSize) + int64(length), err
	}
	return rec, int64(recordHeaderSize) + int64(length), nil
}

func getString(payload []byte, off int) (string, int, error) {
	if len(payload) < off+4 {
		return "", 0, ErrShortRead
	}
	n := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	if len(payload) < off+n {
		return "", 0, ErrShortRead
	}
	return string(payload[off : off+n]), off + n, nil
}

func (r *Record) unmarshalInsert(payload []byte) error {
	coll, off, err := getString(payload, 0)
	if err != nil {
		return err
	}
	r.CollectionID = coll

	tag, off2, err := getString(payload, off)
	if err != nil {
		return err
	}
	r.PartitionTag = tag
	off = off2

	if len(payload) < off+8 {
		return ErrShortRead
	}
	dim := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	count := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4

	r.IDs = make([]model.PrimaryKey, count)
	r.Vectors = make([][]float32, count)
	for i := 0; i < count; i++ {
		if len(payload) < off+8+dim*4 {
			return ErrShortRead
		}
		r.IDs[i] = model.PrimaryKey(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
		r.Vectors[i] = vec
	}
	return nil
}

func (r *Record) unmarshalDelete(payload []byte) error {
	coll, off, err := getString(payload, 0)
	if err != nil {
		return err
	}
	r.CollectionID = coll

	if len(payload) < off+4 {
		return ErrShortRead
	}
	count := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4

	if len(payload) < off+count*8 {
		return ErrShortRead
	}
	r.IDs = make([]model.PrimaryKey, count)
	for i := 0; i < count; i++ {
		r.IDs[i] = model.PrimaryKey(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
	}
	return nil
}

func (r *Record) unmarshalFlush(payload []byte) error {
	coll, _, err := getString(payload, 0)
	if err != nil {
		return err
	}
	r.CollectionID = coll
	return nil
}
