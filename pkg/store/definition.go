package store

import (
	"reflect"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/crdt"
)

// Definition announces one replica to peers: which CRDT it is, its Go type,
// and the log its commands are published on.
type Definition struct {
	CRDTID   string
	Type     reflect.Type
	Commands *broadcast.Log[crdt.Command]
}

// TypeName returns the Go type name of the CRDT, e.g. *crdt.Register[string].
func (d Definition) TypeName() string {
	if d.Type == nil {
		return "<nil>"
	}
	return d.Type.String()
}
