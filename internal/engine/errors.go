package engine

import (
	"fmt"

	"github.com/syncbridge/syncbridge/internal/model"
)

// Side names the replica an error originated from.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// AdapterError records a failed adapter call for a single item. It is
// collected into the pair's [Result] and never aborts the run.
type AdapterError struct {
	Side  Side
	Op    string // "create", "update", "delete", "list"
	Label string // item label, or container name for list failures
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %s %q: %v", e.Side, e.Op, e.Label, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ContainerMappingError records a container pair that references a container
// the adapter cannot create. The pair is skipped; other pairs continue.
type ContainerMappingError struct {
	Pair model.ContainerPair
	Side Side
	Err  error
}

func (e *ContainerMappingError) Error() string {
	return fmt.Sprintf("container pair %s: cannot create %s container: %v", e.Pair, e.Side, e.Err)
}

func (e *ContainerMappingError) Unwrap() error { return e.Err }
