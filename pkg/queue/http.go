package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/guido-cesarano/docq/pkg/tasks"
)

// HTTPClient implements the queue contract as a client of the docq REST
// service (pkg/server). Every operation is one synchronous round trip; no
// retries are attempted here, callers wanting resilience wrap the client
// themselves. Responses outside the documented sentinel codes surface as
// *RemoteError with the status code and body attached.
type HTTPClient struct {
	server string
	hc     *http.Client
}

// NewHTTPClient creates a client for the docq service at the given base URL
// (e.g. "http://localhost:5001").
func NewHTTPClient(server string) *HTTPClient {
	return &HTTPClient{
		server: strings.TrimRight(server, "/"),
		hc:     http.DefaultClient,
	}
}

func (c *HTTPClient) moduleURL(module string) string {
	return fmt.Sprintf("%s/modules/%s/", c.server, url.PathEscape(module))
}

func (c *HTTPClient) taskURL(module, id string) string {
	return fmt.Sprintf("%s/modules/%s/%s", c.server, url.PathEscape(module), url.PathEscape(id))
}

// do runs the request and returns the response plus its fully read body.
func (c *HTTPClient) do(req *http.Request) (*http.Response, string, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return resp, string(body), nil
}

func remoteErr(resp *http.Response, body string) error {
	return &RemoteError{StatusCode: resp.StatusCode, Body: body}
}

func (c *HTTPClient) Process(ctx context.Context, module, doc, id string) (string, error) {
	u := c.moduleURL(module)
	if id != "" {
		u += "?id=" + url.QueryEscape(id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", remoteErr(resp, body)
	}
	return resp.Header.Get("ID"), nil
}

func (c *HTTPClient) Status(ctx context.Context, module, id string) (tasks.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.taskURL(module, id), nil)
	if err != nil {
		return tasks.StatusUnknown, err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return tasks.StatusUnknown, err
	}
	status := tasks.Status(resp.Header.Get("Status"))
	if !status.Valid() {
		return tasks.StatusUnknown, remoteErr(resp, body)
	}
	return status, nil
}

func (c *HTTPClient) Result(ctx context.Context, module, id, format string) (string, error) {
	u := c.taskURL(module, id)
	if format != "" {
		u += "?format=" + url.QueryEscape(format)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusAccepted:
		return "", fmt.Errorf("%w: %s/%s", ErrNotReady, module, id)
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, module, id)
	case http.StatusInternalServerError:
		// The service reports processing failures as a JSON descriptor.
		var desc struct {
			Error string `json:"error"`
		}
		msg := body
		if err := json.Unmarshal([]byte(body), &desc); err == nil && desc.Error != "" {
			msg = desc.Error
		}
		return "", &ProcessingError{Module: module, ID: id, Message: msg}
	default:
		return "", remoteErr(resp, body)
	}
}

func (c *HTTPClient) GetTask(ctx context.Context, module string) (*tasks.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.moduleURL(module), nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return &tasks.Task{
			ID:     resp.Header.Get("ID"),
			Module: module,
			Status: tasks.StatusStarted,
			Doc:    body,
		}, nil
	case http.StatusNotFound:
		// Empty queue.
		return nil, nil
	default:
		return nil, remoteErr(resp, body)
	}
}

func (c *HTTPClient) StoreResult(ctx context.Context, module, id, result string) error {
	return c.put(ctx, module, id, result, "text/plain; charset=utf-8")
}

// StoreError marks the body as an error description via the sentinel
// content type, which is what tells the service to store ERROR, not DONE.
func (c *HTTPClient) StoreError(ctx context.Context, module, id, message string) error {
	return c.put(ctx, module, id, message, ErrorMime)
}

func (c *HTTPClient) put(ctx context.Context, module, id, text, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.taskURL(module, id), strings.NewReader(text))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, body, err := c.do(req)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s/%s: %s", ErrInvalidTransition, module, id, strings.TrimSpace(body))
	default:
		return remoteErr(resp, body)
	}
}

func (c *HTTPClient) BulkStatus(ctx context.Context, module string, ids []string) (map[string]tasks.Status, error) {
	var statuses map[string]tasks.Status
	if err := c.bulk(ctx, module, "status", "", ids, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *HTTPClient) BulkResult(ctx context.Context, module string, ids []string, format string) (map[string]TaskResult, error) {
	query := ""
	if format != "" {
		query = "format=" + url.QueryEscape(format)
	}
	var results map[string]TaskResult
	if err := c.bulk(ctx, module, "result", query, ids, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// BulkProcess submits docs in one round trip. With explicit ids the request
// is an id->doc map and the returned slice follows the input order; without
// ids the request is a plain list and the service's response order (which
// matches) is returned.
func (c *HTTPClient) BulkProcess(ctx context.Context, module string, docs, ids []string, opts BulkOptions) ([]string, error) {
	if ids != nil && len(ids) != len(docs) {
		return nil, fmt.Errorf("bulk process: %d ids for %d docs", len(ids), len(docs))
	}
	var payload any
	if ids != nil {
		byID := make(map[string]string, len(docs))
		for i, doc := range docs {
			byID[ids[i]] = doc
		}
		payload = byID
	} else {
		payload = docs
	}

	var query []string
	if opts.ResetError {
		query = append(query, "reset_error=1")
	}
	if opts.ResetPending {
		query = append(query, "reset_pending=1")
	}

	var out []string
	if err := c.bulk(ctx, module, "process", strings.Join(query, "&"), payload, &out); err != nil {
		return nil, err
	}
	if ids != nil {
		// The map request loses input order; the ids are the caller's own.
		return ids, nil
	}
	return out, nil
}

// bulk POSTs a JSON payload to a /bulk/{op} endpoint and decodes the reply.
func (c *HTTPClient) bulk(ctx context.Context, module, op, query string, payload, into any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := c.moduleURL(module) + "bulk/" + op
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, body, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return remoteErr(resp, body)
	}
	return json.Unmarshal([]byte(body), into)
}

func (c *HTTPClient) Statistics(ctx context.Context, module string) (map[tasks.Status]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.moduleURL(module)+"stats", nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteErr(resp, body)
	}
	var stats map[tasks.Status]int
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
