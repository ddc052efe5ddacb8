package entities

import (
	"fmt"

	"github.com/arqsystems/refdata-platform/internal/codec"
	"github.com/arqsystems/refdata-platform/internal/dispatch"
)

// Names of the entities this package knows how to register.
const (
	NameCurrency = "Currency"
	NameUser     = "User"
)

// All is every entity name this package can register, in a stable order.
var All = []string{NameCurrency, NameUser}

// RegisterAll registers every name in enabled (or every name in All, if
// enabled is empty) with reg, skipping any name also present in disabled,
// and builds the corresponding dispatch.Table. It is the single place
// cmd/* binaries wire entity types into the codec and dispatch layers.
func RegisterAll(reg *codec.Registry, enabled, disabled []string) (dispatch.Table, error) {
	if len(enabled) == 0 {
		enabled = All
	}
	skip := make(map[string]bool, len(disabled))
	for _, n := range disabled {
		skip[n] = true
	}

	var ops []dispatch.EntityOps
	for _, name := range enabled {
		if skip[name] {
			continue
		}
		switch name {
		case NameCurrency:
			codec.Register[Currency](reg, name)
		case NameUser:
			codec.Register[User](reg, name)
		default:
			return nil, fmt.Errorf("entities: no registration wired for %q", name)
		}
		ops = append(ops, dispatch.EntityOps{Name: name})
	}

	return dispatch.NewTable(ops...)
}
