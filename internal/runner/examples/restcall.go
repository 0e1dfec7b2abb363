// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package examples ships ready-to-register job bodies. RESTCallJob is the
// connection-cache-free HTTP path: a service whose work is one REST call,
// with the URL and body templated per device.
package examples

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/pkg/httpclient"
)

// RESTCall describes one templated REST call.
type RESTCall struct {
	Method  string
	URL     string
	Body    string
	Headers map[string]string

	// Sub performs {{ expr }} substitution against the run scope before
	// the request is built. Optional.
	Sub func(input string, scope map[string]any) (string, error)

	// Client overrides the default retrying HTTP client. Optional.
	Client *http.Client
}

// Job returns a runner job executing the call. A non-2xx status is a
// failed attempt; a JSON response body is decoded, anything else is
// returned as text.
func (c *RESTCall) Job() runner.Job {
	return func(r *runner.Runner, device *runner.Device) (any, error) {
		client := c.Client
		if client == nil {
			var err error
			client, err = httpclient.New(httpclient.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("restcall: build client: %w", err)
			}
		}

		scope := map[string]any{"runtime": r.Runtime}
		if device != nil {
			scope["device"] = map[string]any{
				"name":       device.Name,
				"ip_address": device.IPAddress,
				"port":       device.Port,
			}
		}

		url, err := c.render(c.URL, scope)
		if err != nil {
			return nil, err
		}
		body, err := c.render(c.Body, scope)
		if err != nil {
			return nil, err
		}

		method := c.Method
		if method == "" {
			method = http.MethodGet
		}
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(r.Context(), method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("restcall: build request: %w", err)
		}
		if body != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("restcall: %s %s: %w", method, url, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("restcall: read response: %w", err)
		}

		result := map[string]any{
			"status":      resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			result["body"] = decoded
		} else {
			result["body"] = string(raw)
		}

		if resp.StatusCode >= 300 {
			return result, fmt.Errorf("restcall: %s %s returned %d", method, url, resp.StatusCode)
		}
		return result, nil
	}
}

func (c *RESTCall) render(input string, scope map[string]any) (string, error) {
	if input == "" || c.Sub == nil {
		return input, nil
	}
	out, err := c.Sub(input, scope)
	if err != nil {
		return "", fmt.Errorf("restcall: render template: %w", err)
	}
	return out, nil
}
