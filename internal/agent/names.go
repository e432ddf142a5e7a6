package agent

import (
	"sync/atomic"

	"netwatch-agent/internal/resolver"
)

// nameIndexRef lets the supervisor and the ingestor be wired before the
// startup resolution has produced the index.
type nameIndexRef struct {
	p atomic.Pointer[resolver.NameIndex]
}

func (r *nameIndexRef) Set(idx *resolver.NameIndex) { r.p.Store(idx) }

func (r *nameIndexRef) Lookup(addr string) (string, bool) {
	return r.p.Load().Lookup(addr)
}

func (r *nameIndexRef) Address(name string) (string, bool) {
	return r.p.Load().Address(name)
}

func (r *nameIndexRef) Len() int {
	return r.p.Load().Len()
}
