package email

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Provider is the interface every outbound email backend implements.
type Provider interface {
	Send(ctx context.Context, msg *Message) (Result, error)
	SendBulk(ctx context.Context, msgs []*Message) ([]Result, error)
	VerifyConfiguration(ctx context.Context) bool
	Name() string
}

// SendBulkSequentially is the default send_bulk behavior shared by providers
// that have no native bulk API: send one at a time, converting a send error
// into a failed Result instead of aborting the batch.
func SendBulkSequentially(ctx context.Context, p Provider, msgs []*Message) []Result {
	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		res, err := p.Send(ctx, msg)
		if err != nil {
			res = Result{Success: false, Error: err.Error(), Provider: p.Name()}
		}
		results = append(results, res)
	}
	return results
}

// SendBulkConcurrently fans a batch out across at most maxConcurrency
// in-flight sends, preserving msgs' order in the returned results. Providers
// backed by a bounded resource (a connection pool, a rate-limited API)
// should pass a concurrency no larger than that resource can sustain.
func SendBulkConcurrently(ctx context.Context, p Provider, msgs []*Message, maxConcurrency int) []Result {
	results := make([]Result, len(msgs))
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, msg := range msgs {
		i, msg := i, msg
		g.Go(func() error {
			res, err := p.Send(gctx, msg)
			if err != nil {
				res = Result{Success: false, Error: err.Error(), Provider: p.Name()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}
