package adapter

import "context"

// Echo returns every segment unchanged. It is used for local runs.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Translate(ctx context.Context, batch []string, model, credential string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	out := make([]string, len(batch))
	copy(out, batch)
	return out, nil
}
