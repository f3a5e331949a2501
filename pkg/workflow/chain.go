package workflow

import (
	"context"
	"slices"
)

type chainKey struct{}

// callChain lists the workflow ids currently executing above a sub-workflow, outermost first.
type callChain []string

func chainFrom(ctx context.Context) callChain {
	chain, _ := ctx.Value(chainKey{}).(callChain)

	return chain
}

func (c callChain) with(workflowID string) callChain {
	return append(slices.Clip(c), workflowID)
}

func (c callChain) contains(workflowID string) bool {
	return slices.Contains(c, workflowID)
}

func withChain(ctx context.Context, chain callChain) context.Context {
	return context.WithValue(ctx, chainKey{}, chain)
}
