package es

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	esContainer "github.com/testcontainers/testcontainers-go/modules/elasticsearch"
)

// fakeES answers like elasticsearch does and records the last request.
func fakeES(t *testing.T, status int, response string) (*Client, func() map[string]any) {
	t.Helper()

	var (
		mu       sync.Mutex
		lastBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		lastBody = nil
		if len(b) > 0 {
			_ = json.Unmarshal(b, &lastBody)
		}
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return c, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return lastBody
	}
}

func Test_Search_Query(t *testing.T) {
	c, lastBody := fakeES(t, http.StatusOK, `{
		"hits": {
			"total": {"value": 1, "relation": "eq"},
			"hits": [{"_id": "3", "_score": 1.5, "_source": {"id": 3, "title": "Write spec"}}]
		}
	}`)

	resp, err := c.Search(t.Context(), "records_tasks", SearchRequest{Query: "spec", Fields: []string{"title"}, Size: 500})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.Total)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "3", resp.Hits[0].ID)
	require.Equal(t, 1.5, resp.Hits[0].Score)
	require.Equal(t, "Write spec", resp.Hits[0].Source["title"])

	require.Equal(t, map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  "spec",
				"fields": []any{"title"},
			},
		},
		"size": float64(100),
	}, lastBody())

	_, err = c.Search(t.Context(), "records_tasks", SearchRequest{Fields: []string{"title"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  float64(25),
	}, lastBody())
}

func Test_Search_MissingIndex(t *testing.T) {
	c, _ := fakeES(t, http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`)

	resp, err := c.Search(t.Context(), "records_tasks", SearchRequest{})
	require.NoError(t, err)
	require.Zero(t, resp.Total)
	require.Empty(t, resp.Hits)
}

func Test_ResponseError(t *testing.T) {
	c, _ := fakeES(t, http.StatusBadRequest, `{"error":{"type":"mapper_parsing_exception"},"status":400}`)

	err := c.UpsertJSON(t.Context(), "records_tasks", "1", map[string]any{"title": "x"})
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusBadRequest, re.StatusCode)
	require.False(t, re.Temporary())

	require.True(t, (&ResponseError{StatusCode: http.StatusTooManyRequests}).Temporary())
	require.True(t, (&ResponseError{StatusCode: http.StatusServiceUnavailable}).Temporary())
}

func Test_Delete_Missing(t *testing.T) {
	c, _ := fakeES(t, http.StatusNotFound, `{"result":"not_found"}`)
	require.NoError(t, c.Delete(t.Context(), "records_tasks", "1"))
}

type ESSuite struct {
	suite.Suite

	esContainer *esContainer.ElasticsearchContainer
	client      *Client
}

func (t *ESSuite) SetupSuite() {
	containerCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	elasticsearchContainer, err := esContainer.Run(containerCtx, "docker.elastic.co/elasticsearch/elasticsearch:8.9.0")
	if err != nil {
		t.FailNow("failed to start elasticsearch container", err)
	}
	t.esContainer = elasticsearchContainer

	esAddr, err := t.esContainer.Endpoint(containerCtx, "https")
	if err != nil {
		t.FailNow("failed to get elasticsearch endpoint", err)
	}

	client, err := New(Config{
		Addresses: []string{esAddr},
		Username:  t.esContainer.Settings.Username,
		Password:  t.esContainer.Settings.Password,
		Refresh:   true,
		// Trust the self-signed certs used by elasticsearch
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	t.Require().NoError(err)
	t.client = client
}

func (t *ESSuite) TearDownSuite() {
	if err := testcontainers.TerminateContainer(t.esContainer); err != nil {
		log.Printf("failed to terminate elasticsearch container: %s", err)
	}
}

func (t *ESSuite) Test_UpsertSearchDelete() {
	ctx := t.T().Context()
	index := "records_tasks"

	t.Require().NoError(t.client.UpsertJSON(ctx, index, "1", map[string]any{"id": 1, "title": "Learn Flask", "is_completed": true}))
	t.Require().NoError(t.client.UpsertJSON(ctx, index, "2", map[string]any{"id": 2, "title": "Build CRUD API", "is_completed": false}))

	resp, err := t.client.Search(ctx, index, SearchRequest{})
	t.Require().NoError(err)
	t.Require().Equal(int64(2), resp.Total)

	resp, err = t.client.Search(ctx, index, SearchRequest{Query: "crud", Fields: []string{"title"}})
	t.Require().NoError(err)
	t.Require().Len(resp.Hits, 1)
	t.Require().Equal("2", resp.Hits[0].ID)

	// upserting again replaces the document
	t.Require().NoError(t.client.UpsertJSON(ctx, index, "2", map[string]any{"id": 2, "title": "Build REST API", "is_completed": true}))
	resp, err = t.client.Search(ctx, index, SearchRequest{Query: "crud", Fields: []string{"title"}})
	t.Require().NoError(err)
	t.Require().Empty(resp.Hits)

	t.Require().NoError(t.client.Delete(ctx, index, "1"))
	t.Require().NoError(t.client.Delete(ctx, index, "1"))

	resp, err = t.client.Search(ctx, index, SearchRequest{})
	t.Require().NoError(err)
	t.Require().Len(resp.Hits, 1)
	t.Require().Equal("2", resp.Hits[0].ID)

	resp, err = t.client.Search(ctx, "records_missing", SearchRequest{})
	t.Require().NoError(err)
	t.Require().Empty(resp.Hits)
}

func Test_ESSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container tests in short mode")
	}
	suite.Run(t, new(ESSuite))
}
