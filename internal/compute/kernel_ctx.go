package compute

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// KernelCtx is the compile-time configuration of one kernel variant: a set of integer
// defines. Backends turn it into compiler options or generated constants.
type KernelCtx struct {
	defines map[string]int64
}

// NewKernelCtx returns an empty context.
func NewKernelCtx() *KernelCtx {
	return &KernelCtx{defines: make(map[string]int64)}
}

// Define sets name to value, replacing an earlier definition.
func (c *KernelCtx) Define(name string, value int64) {
	c.defines[name] = value
}

// DefineBool sets name to 1 or 0.
func (c *KernelCtx) DefineBool(name string, value bool) {
	if value {
		c.Define(name, 1)
	} else {
		c.Define(name, 0)
	}
}

// Get returns the value of name.
func (c *KernelCtx) Get(name string) (int64, bool) {
	v, ok := c.defines[name]
	return v, ok
}

// Names returns the defined names in sorted order.
func (c *KernelCtx) Names() []string {
	return slices.Sorted(maps.Keys(c.defines))
}

// Len is the number of defines.
func (c *KernelCtx) Len() int { return len(c.defines) }

// Options renders the defines as compiler options, "-DA=1 -DB=0", in sorted order.
func (c *KernelCtx) Options() string {
	var sb strings.Builder
	for i, name := range c.Names() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "-D%s=%d", name, c.defines[name])
	}
	return sb.String()
}

// Reader returns a helper that collects the names missing from c.
func (c *KernelCtx) Reader() *KernelCtxReader {
	return &KernelCtxReader{ctx: c}
}

// KernelCtxReader reads defines and remembers which were missing, so a backend can parse a
// whole context and report once.
type KernelCtxReader struct {
	ctx     *KernelCtx
	missing []string
}

// Int returns the value of name, or 0 if it is missing.
func (r *KernelCtxReader) Int(name string) int64 {
	v, ok := r.ctx.Get(name)
	if !ok {
		r.missing = append(r.missing, name)
	}
	return v
}

// Bool returns whether name is non-zero.
func (r *KernelCtxReader) Bool(name string) bool { return r.Int(name) != 0 }

// Err returns a build failure listing the missing defines.
func (r *KernelCtxReader) Err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return BuildFailuref("kernel context is missing %s", strings.Join(r.missing, ", "))
}
