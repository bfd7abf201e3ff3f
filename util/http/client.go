package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	body, err := encodeBody(requestParam.Body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, requestParam.Method, requestParam.RequestURI, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}
	if len(requestParam.Query) > 0 {
		q := req.URL.Query()
		for k, v := range requestParam.Query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	slog.Debug("http request done", "method", req.Method, "url", redact(req.URL), "status", resp.StatusCode, "bytes", len(respBody))

	return decodeResponse(respBody, requestParam.Response)
}

func encodeBody(body interface{}) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

func decodeResponse(data []byte, out interface{}) error {
	if out == nil {
		return nil
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response body: %w", err)
	}
	return nil
}

// redact 去掉 query，避免日志里出现文件名等参数
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
