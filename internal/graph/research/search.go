package research

import "context"

// SearchClient retrieves papers for a query. Implementations wrap external
// paper indexes; discovery treats them as recall-permissive and applies no
// date or venue filters at search time.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]Paper, error)
	Sources() []string
}

// SearchFunc adapts a function to the SearchClient interface with a fixed
// source label.
type SearchFunc struct {
	Fn     func(ctx context.Context, query string) ([]Paper, error)
	Source string
}

func (s SearchFunc) Search(ctx context.Context, query string) ([]Paper, error) {
	return s.Fn(ctx, query)
}

func (s SearchFunc) Sources() []string { return []string{s.Source} }
