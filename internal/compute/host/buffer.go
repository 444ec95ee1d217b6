package host

import (
	"unsafe"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Buffer is host memory posing as device memory. The backing store is 8-byte aligned so
// that 32 and 64-bit atomics can address any element.
type Buffer struct {
	id    uuid.UUID
	words []uint64
	data  []byte
}

func newBuffer(size uint64) *Buffer {
	words := make([]uint64, (size+7)/8)
	var data []byte
	if len(words) > 0 {
		//nolint:gosec // reinterpreting the aligned word slice as bytes
		data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:size]
	}
	return &Buffer{id: uuid.New(), words: words, data: data}
}

// Size implements compute.Buffer.
func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// ID identifies the buffer in logs.
func (b *Buffer) ID() uuid.UUID { return b.id }

// Bytes exposes the buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) String() string { return "host buffer " + b.id.String()[:8] }

// hostBuffer narrows a compute.Buffer to this backend's type.
func hostBuffer(buf compute.Buffer, role string) (*Buffer, error) {
	hb, ok := buf.(*Buffer)
	if !ok || hb == nil {
		return nil, errors.Wrapf(compute.ErrLaunchFailure, "%s: %T is not a host buffer", role, buf)
	}
	return hb, nil
}

func checkSize(buf *Buffer, role string, elements int, elemSize int) error {
	if need := uint64(elements) * uint64(elemSize); buf.Size() < need {
		return compute.LaunchFailuref("%s: %d bytes needed, buffer holds %d", role, need, buf.Size())
	}
	return nil
}
