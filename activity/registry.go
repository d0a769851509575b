package activity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves a contract address to a display name. Injectable so
// deployments can extend the table without a rebuild.
type Registry interface {
	Lookup(addr common.Address) (string, bool)
}

// StaticRegistry is a fixed address-to-name table, usually loaded from
// configuration.
type StaticRegistry struct {
	names map[common.Address]string
}

func NewStaticRegistry(entries map[string]string) *StaticRegistry {
	r := &StaticRegistry{names: make(map[common.Address]string, len(entries))}
	for addr, name := range entries {
		if !common.IsHexAddress(addr) {
			continue
		}
		r.names[common.HexToAddress(strings.TrimSpace(addr))] = name
	}
	return r
}

func (r *StaticRegistry) Lookup(addr common.Address) (string, bool) {
	name, ok := r.names[addr]
	return name, ok
}
