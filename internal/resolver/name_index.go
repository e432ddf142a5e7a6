package resolver

import (
	"maps"
	"slices"
)

// NameIndex maps an interface IPv4 address to the identifier workers understand.
// It is immutable after construction and safe for concurrent reads.
type NameIndex struct {
	byAddr map[string]string
	byName map[string]string
}

func NewNameIndex(byAddr map[string]string) *NameIndex {
	idx := &NameIndex{
		byAddr: make(map[string]string, len(byAddr)),
		byName: make(map[string]string, len(byAddr)),
	}
	for _, addr := range slices.Sorted(maps.Keys(byAddr)) {
		name := byAddr[addr]
		idx.byAddr[addr] = name
		if _, taken := idx.byName[name]; !taken {
			idx.byName[name] = addr
		}
	}
	return idx
}

// Lookup returns the interface identifier bound to addr.
func (i *NameIndex) Lookup(addr string) (string, bool) {
	if i == nil {
		return "", false
	}
	name, ok := i.byAddr[addr]
	return name, ok
}

// Address is the reverse of Lookup: the address a worker-reported name belongs to.
func (i *NameIndex) Address(name string) (string, bool) {
	if i == nil {
		return "", false
	}
	addr, ok := i.byName[name]
	return addr, ok
}

func (i *NameIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byAddr)
}

func (i *NameIndex) Entries() map[string]string {
	if i == nil {
		return map[string]string{}
	}
	return maps.Clone(i.byAddr)
}
