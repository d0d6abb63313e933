package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
)

type Client struct {
	es      *elasticsearch.Client
	refresh string
}

type Config struct {
	Addresses []string
	Username  string
	Password  string

	// Refresh makes every write visible to search before it returns. Meant for tests.
	Refresh bool

	// Transport overrides the default http transport.
	Transport http.RoundTripper
}

func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, err
	}

	refresh := "false"
	if cfg.Refresh {
		refresh = "true"
	}

	return &Client{es: es, refresh: refresh}, nil
}

func (c *Client) UpsertJSON(ctx context.Context, indexAlias, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	res, err := c.es.Index(
		indexAlias,
		bytes.NewReader(body),
		c.es.Index.WithDocumentID(docID),
		c.es.Index.WithContext(ctx),
		c.es.Index.WithRefresh(c.refresh),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return &ResponseError{StatusCode: res.StatusCode, Msg: fmt.Sprintf("es index error: %s %s", res.Status(), string(b))}
	}
	slog.DebugContext(ctx, "indexed document", "id", docID, "index", indexAlias)
	return nil
}

func (c *Client) Delete(ctx context.Context, indexAlias, docID string) error {
	res, err := c.es.Delete(
		indexAlias,
		docID,
		c.es.Delete.WithContext(ctx),
		c.es.Delete.WithRefresh(c.refresh),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return &ResponseError{StatusCode: res.StatusCode, Msg: fmt.Sprintf("es delete error: %s %s", res.Status(), string(b))}
	}
	slog.DebugContext(ctx, "deleted document", "id", docID, "index", indexAlias)
	return nil
}

// ResponseError is an error reported by elasticsearch itself, as opposed to a
// transport failure.
type ResponseError struct {
	StatusCode int
	Msg        string
}

func (e *ResponseError) Error() string {
	return e.Msg
}

// Temporary reports whether retrying the request may succeed.
func (e *ResponseError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
