package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"snowgoose-backend/internal/models"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient returns the client shared by the HTTP vendors. The timeout
// bounds a whole streamed response, so it must cover long generations.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StatusError is a non-2xx reply received before streaming started.
type StatusError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Vendor, e.StatusCode, e.Body)
}

func postStream(ctx context.Context, client *http.Client, vendor, url string, headers map[string]string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", vendor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", vendor, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Vendor: vendor, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}

// sseHandler decodes one SSE data payload into the events it yields. A
// returned error ends the stream.
type sseHandler func(data []byte) ([]models.StreamEvent, error)

// streamSSE reads data lines from body and feeds them to handle until EOF,
// a "[DONE]" marker, an error, or cancellation of ctx. Lines are read with
// bufio.Reader because image payloads exceed bufio.Scanner's token limit.
func streamSSE(ctx context.Context, body io.ReadCloser, vendor string, handle sseHandler) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(c Chunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, readErr := reader.ReadString('\n')
			if readErr != nil && readErr != io.EOF {
				if ctx.Err() == nil {
					send(Chunk{Err: fmt.Errorf("%s: read stream: %w", vendor, readErr)})
				}
				return
			}

			line = strings.TrimSpace(line)
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				data = strings.TrimSpace(data)
				if data == "[DONE]" {
					return
				}
				if data != "" {
					events, err := handle([]byte(data))
					if err != nil {
						send(Chunk{Err: err})
						return
					}
					for _, ev := range events {
						if !send(Chunk{Event: ev}) {
							return
						}
					}
				}
			}

			if readErr == io.EOF {
				return
			}
		}
	}()
	return ch
}

// UpstreamError is an error reported inside an otherwise healthy stream.
type UpstreamError struct {
	Vendor  string
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Vendor, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Message)
}
