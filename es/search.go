package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type SearchRequest struct {
	Query  string
	Fields []string
	Size   int
}

type SearchResponse struct {
	Total int64       `json:"total"`
	Hits  []SearchHit `json:"hits"`
}

type SearchHit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Source map[string]any `json:"record"`
}

func (c *Client) Search(ctx context.Context, indexAlias string, req SearchRequest) (*SearchResponse, error) {
	var query map[string]any
	if req.Query == "" || len(req.Fields) == 0 {
		query = map[string]any{"match_all": map[string]any{}}
	} else {
		query = map[string]any{
			"multi_match": map[string]any{
				"query":  req.Query,
				"fields": req.Fields,
			},
		}
	}

	size := req.Size
	if size <= 0 {
		size = 25
	}
	if size > 100 {
		size = 100
	}

	body := map[string]any{
		"query": query,
		"size":  size,
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(indexAlias),
		c.es.Search.WithBody(bytes.NewReader(b)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			// index not found, return empty result
			return &SearchResponse{Total: 0, Hits: []SearchHit{}}, nil
		}

		raw, _ := io.ReadAll(res.Body)
		return nil, &ResponseError{StatusCode: res.StatusCode, Msg: fmt.Sprintf("es search error: %s %s", res.Status(), string(raw))}
	}

	var decoded struct {
		Hits struct {
			// total: { "value": N, "relation": "eq" } (ES7+)
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	out := &SearchResponse{Total: decoded.Hits.Total.Value, Hits: make([]SearchHit, 0, len(decoded.Hits.Hits))}
	for _, h := range decoded.Hits.Hits {
		out.Hits = append(out.Hits, SearchHit{
			ID:     h.ID,
			Score:  h.Score,
			Source: h.Source,
		})
	}

	return out, nil
}
