// Package products holds the product list: a store that owns the current
// products, and the sources it loads them from.
package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/model"
)

// DefaultLimit is how many posts a RemoteSource turns into products.
const DefaultLimit = 10

// ErrPayload is returned when a remote body is not a list of posts.
var ErrPayload = errors.New("products: unexpected payload")

// Source loads a product list. done is called exactly once unless the
// returned cancel runs first, in which case done receives an abort error.
type Source interface {
	Load(ctx context.Context, done func([]model.Product, error)) fetch.Cancel
}

// LocalSource serves a fixed in-memory list.
type LocalSource struct {
	Products []model.Product
}

func (s LocalSource) Load(_ context.Context, done func([]model.Product, error)) fetch.Cancel {
	out := make([]model.Product, len(s.Products))
	copy(out, s.Products)
	done(out, nil)
	return func() {}
}

// RemoteSource derives products from the posts endpoint.
type RemoteSource struct {
	Fetcher fetch.Fetcher
	URL     string
	Limit   int
}

// NewRemoteSource reads posts from baseURL+"/posts".
func NewRemoteSource(f fetch.Fetcher, baseURL string) *RemoteSource {
	return &RemoteSource{Fetcher: f, URL: baseURL + "/posts", Limit: DefaultLimit}
}

func (s *RemoteSource) Load(ctx context.Context, done func([]model.Product, error)) fetch.Cancel {
	return s.Fetcher.Fetch(ctx, s.URL, func(resp fetch.Response) {
		if resp.Err != nil {
			done(nil, resp.Err)
			return
		}
		ps, err := s.decode(resp.Body)
		done(ps, err)
	})
}

func (s *RemoteSource) decode(body any) ([]model.Product, error) {
	items, ok := body.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrPayload, body)
	}
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]model.Product, 0, min(limit, len(items)))
	for _, it := range items {
		if len(out) == limit {
			break
		}
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		p, ok := model.PostFromMap(m)
		if !ok {
			continue
		}
		out = append(out, model.ProductFromPost(p))
	}
	return out, nil
}
