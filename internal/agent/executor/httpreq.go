package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxResponseBodyBytes = 5 << 20 // 5 MiB
	maxRedirects         = 10
)

// runHTTPRequest performs an arbitrary HTTP probe described by the task
// payload. The response body is capped and lossily decoded so the result
// always serializes as JSON.
func (e *Executor) runHTTPRequest(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	method := strings.ToUpper(stringField(content, "method"))
	if method == "" {
		method = http.MethodGet
	}
	targetURL := stringField(content, "url")
	if targetURL == "" {
		return nil, fmt.Errorf("url is required")
	}

	body, contentType, err := buildRequestBody(content)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range mapField(content, "headers") {
		if s, ok := value.(string); ok {
			req.Header.Set(key, s)
		}
	}
	if query := mapField(content, "query"); len(query) > 0 {
		q := req.URL.Query()
		for key, value := range query {
			q.Set(key, fmt.Sprintf("%v", value))
		}
		req.URL.RawQuery = q.Encode()
	}

	client, err := e.buildHTTPClient(content)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Bytes past the cap are dropped, not buffered.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(started)

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]interface{}{
		"status":     resp.StatusCode,
		"headers":    headers,
		"body":       strings.ToValidUTF8(string(raw), "�"),
		"elapsed_ms": elapsed.Milliseconds(),
	}, nil
}

// buildHTTPClient assembles a per-call client from the task's TLS flag, the
// redirect policy, and the agent's upstream proxy config.
func (e *Executor) buildHTTPClient(content map[string]interface{}) (*http.Client, error) {
	verifyTLS := boolField(content, "verify_tls", e.cfg.HTTP.ShouldVerifyTLS())
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyTLS},
	}

	if e.cfg.HTTP.ProxyEnabled && e.cfg.HTTP.ProxyURL != "" {
		proxyURL, err := url.Parse(e.cfg.HTTP.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if e.cfg.HTTP.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(e.cfg.HTTP.ProxyUsername, e.cfg.HTTP.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{Transport: transport}
	if boolField(content, "allow_redirects", false) {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

func buildRequestBody(content map[string]interface{}) (io.Reader, string, error) {
	bodyType := stringField(content, "body_type")
	switch bodyType {
	case "", "none":
		return nil, "", nil

	case "json":
		data, err := json.Marshal(content["json_body"])
		if err != nil {
			return nil, "", fmt.Errorf("failed to serialize json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil

	case "form":
		form := url.Values{}
		for key, value := range mapField(content, "form_fields") {
			form.Set(key, fmt.Sprintf("%v", value))
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil

	case "raw":
		contentType := stringField(content, "content_type")
		if contentType == "" {
			contentType = "text/plain"
		}
		return strings.NewReader(stringField(content, "raw_body")), contentType, nil

	case "multipart":
		return buildMultipartBody(listField(content, "parts"))

	default:
		return nil, "", fmt.Errorf("unknown body_type: %s", bodyType)
	}
}

func buildMultipartBody(parts []interface{}) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i, rawPart := range parts {
		part, ok := rawPart.(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("part %d is not an object", i)
		}
		name := stringField(part, "name")
		if name == "" {
			return nil, "", fmt.Errorf("part %d is missing name", i)
		}

		switch partType := stringField(part, "type"); partType {
		case "field":
			if err := writer.WriteField(name, stringField(part, "value")); err != nil {
				return nil, "", fmt.Errorf("failed to write field %s: %w", name, err)
			}
		case "file":
			filePath := stringField(part, "file_path")
			if filePath == "" {
				return nil, "", fmt.Errorf("part %d is missing file_path", i)
			}
			filename := stringField(part, "filename")
			if filename == "" {
				filename = filepath.Base(filePath)
			}
			fw, err := writer.CreateFormFile(name, filename)
			if err != nil {
				return nil, "", fmt.Errorf("failed to create file part %s: %w", name, err)
			}
			file, err := os.Open(filePath)
			if err != nil {
				return nil, "", fmt.Errorf("failed to open %s: %w", filePath, err)
			}
			_, copyErr := io.Copy(fw, file)
			file.Close()
			if copyErr != nil {
				return nil, "", fmt.Errorf("failed to read %s: %w", filePath, copyErr)
			}
		default:
			return nil, "", fmt.Errorf("part %d has unknown type: %s", i, partType)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
