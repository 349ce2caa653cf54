package rag

import "context"

// VRAMHintable is implemented by oracle adapters that share GPU memory with
// other stages in the pipeline and can act on a cooperative hint to release
// it between turns. Implementing it is optional — a caller that type-asserts
// against it and finds the adapter doesn't support it simply skips the hint
// and proceeds, the same as if the model host ignored the hint outright.
type VRAMHintable interface {
	Unload(ctx context.Context) error
}
