package execution

import "context"

// Backend runs one Request to completion and reduces the outcome to a
// tagged Result. Implementations: PreloadBackend (subprocess) and
// ContainerBackend (exec into the shared session container).
type Backend interface {
	Run(ctx context.Context, req Request) (Result, error)
}

const defaultTimeoutMS = 30_000
