package listener

import "context"

// Listener serves azgraph over one transport until its context ends.
type Listener interface {
	Addr() string
	Start(ctx context.Context) error
	Stop() error
	Type() string
}
