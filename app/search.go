package app

import (
	"context"

	"github.com/theleeeo/records/es"
)

func (a *App) Search(ctx context.Context, resourceName string, query string, size int) (*es.SearchResponse, error) {
	rCfg, _, err := a.resolve(resourceName)
	if err != nil {
		return nil, err
	}

	if a.es == nil || !rCfg.Searchable() {
		return nil, ErrSearchDisabled
	}

	return a.es.Search(ctx, a.indexName(rCfg), es.SearchRequest{
		Query:  query,
		Fields: rCfg.GetSearchableFields(),
		Size:   size,
	})
}
