package calc

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateNode is returned when a name is already taken.
	ErrDuplicateNode = errors.New("node already present")
	// ErrReservedWord is returned when a name is a keyword, builtin,
	// special form or library name.
	ErrReservedWord = errors.New("reserved word")
	// ErrInvalidName is returned for names that cannot be referenced from a
	// formula.
	ErrInvalidName = errors.New("invalid identifier")
	// ErrNodeNotFound is returned by mutations on missing nodes.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCircular is the value of every node on a dependency cycle.
	ErrCircular = errors.New("Circular dependency detected")
	// ErrNotDefined is wrapped by failed runtime resolutions.
	ErrNotDefined = errors.New("not defined")
	// ErrRemoved is the value of a node after it is removed from its graph.
	ErrRemoved = errors.New("node removed")
	// ErrModuleNotFound is returned by a RequireFunc that has no module for
	// a specifier. The graph treats it as "no bundle" when looking up
	// bundle exports.
	ErrModuleNotFound = errors.New("module not found")
)

// GraphError is a structural failure of a graph mutation. The graph is left
// unchanged.
type GraphError struct {
	// Op is the mutation: insert, update, rename, remove or merge.
	Op string
	// Node is the node name the mutation was about.
	Node string
	// Err is one of the sentinels above or a formula error.
	Err error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	switch {
	case errors.Is(e.Err, ErrDuplicateNode):
		return fmt.Sprintf("Node %s is already present in the calculation graph", e.Node)
	case errors.Is(e.Err, ErrReservedWord):
		return fmt.Sprintf("%s is a reserved word", e.Node)
	case errors.Is(e.Err, ErrInvalidName):
		return fmt.Sprintf("%s is not a valid identifier", e.Node)
	case errors.Is(e.Err, ErrNodeNotFound):
		return fmt.Sprintf("Node %s is not found on the graph", e.Node)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *GraphError) Unwrap() error {
	return e.Err
}

func notDefined(name string) error {
	return fmt.Errorf("%s %w", name, ErrNotDefined)
}
