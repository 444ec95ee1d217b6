package compute

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type fakeBuffer struct {
	id   int
	size uint64
}

func (b *fakeBuffer) Size() uint64 { return b.size }

type fakeRaw struct {
	mu    sync.Mutex
	next  int
	freed []int
	limit uint64
}

func (r *fakeRaw) NewBuffer(size uint64) (Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && size > r.limit {
		return nil, AllocationFailuref("%d bytes over limit", size)
	}
	r.next++
	return &fakeBuffer{id: r.next, size: size}, nil
}

func (r *fakeRaw) FreeBuffer(buf Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freed = append(r.freed, buf.(*fakeBuffer).id)
}

type fakeKernel struct {
	name    string
	options string
}

func (k *fakeKernel) Name() string { return k.name }

// fakeBackend counts builds and can be told to fail or to stall them.
type fakeBackend struct {
	name      string
	id        string
	builds    atomic.Int64
	failBuild bool
	delay     time.Duration
	pool      *BufferPool
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, id: uuid.NewString(), pool: NewBufferPool(&fakeRaw{})}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) ID() string { return b.id }

func (b *fakeBackend) DeviceInfo() DeviceInfo {
	return DeviceInfo{Name: b.name, SubgroupSize: 4, ThreadsPerEU: 2, EUCount: 1}
}

func (b *fakeBackend) Build(ctx context.Context, name string, kctx *KernelCtx) (Kernel, error) {
	b.builds.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.failBuild {
		return nil, errors.New("compiler crashed")
	}
	return &fakeKernel{name: name, options: kctx.Options()}, nil
}

func (b *fakeBackend) Launch(context.Context, Kernel, NDRange, *ArgList) error { return nil }

func (b *fakeBackend) Fill(context.Context, Buffer, []byte) error { return nil }

func (b *fakeBackend) Barrier(context.Context) error { return nil }

func (b *fakeBackend) Allocator() Allocator { return b.pool }

type fakeKey struct {
	value int64
}

func (k fakeKey) Serialize() []byte { return []byte{byte(k.value)} }

func (k fakeKey) KernelCtx() *KernelCtx {
	ctx := NewKernelCtx()
	ctx.Define("VALUE", k.value)
	return ctx
}
