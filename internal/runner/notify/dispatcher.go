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

// Package notify assembles the run-completion summary and sends it through
// one of three backends: email, chat, or a generic webhook. Transport
// errors attach a structured field to the summary; they never fail the
// caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Transport selects which backend Dispatch uses.
type Transport string

const (
	TransportEmail   Transport = "mail"
	TransportChat    Transport = "chat"
	TransportWebhook Transport = "webhook"
)

// Status is the coarse PASS/FAILED flag carried in the summary map.
type Status string

const (
	StatusPass   Status = "PASS"
	StatusFailed Status = "FAILED"
)

// Sub substitutes {{ expr }} templates, e.g. ExpressionHost.Sub, used for
// the optional Header field.
type Sub func(input string, variables map[string]any) (string, error)

// Request carries everything Dispatch needs to build and send one
// notification.
type Request struct {
	Service   string
	Runtime   string
	ServiceID string
	Success   bool
	Results   any

	HeaderTemplate string
	Variables      map[string]any

	AppAddress string // base URL used to assemble Link

	IncludeDeviceResults bool
	DeviceResults        map[string]any

	PassedDevices []string
	FailedDevices []string

	Transport Transport

	// Destination selects the transport-specific target: an email
	// recipient list, a chat channel name, or a webhook URL.
	Destination string
}

// EmailSender is the minimal SMTP collaborator Dispatch needs.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string, attachment map[string]string) error
}

// ChatSender posts a message to a bot-token-authenticated chat channel.
type ChatSender interface {
	Post(ctx context.Context, channel, text string) error
}

// HTTPDoer is the minimal *http.Client-shaped interface WebhookSender needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookSender posts a generic {channel, text} JSON envelope to a URL.
type WebhookSender struct {
	Client HTTPDoer
}

// Post sends the webhook envelope.
func (w *WebhookSender) Post(ctx context.Context, url, channel, text string) error {
	body, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return fmt.Errorf("notify: marshal webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher is the NotificationDispatcher.
type Dispatcher struct {
	Email   EmailSender
	Chat    ChatSender
	Webhook *WebhookSender
	Sub     Sub
}

// New constructs a Dispatcher with the given transports wired in.
func New(email EmailSender, chat ChatSender, webhook *WebhookSender, sub Sub) *Dispatcher {
	return &Dispatcher{Email: email, Chat: chat, Webhook: webhook, Sub: sub}
}

// Dispatch builds the summary map and sends it through req.Transport.
// Transport errors are returned as a structured value under the
// "notification" key rather than propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) map[string]any {
	status := StatusFailed
	if req.Success {
		status = StatusPass
	}

	summary := map[string]any{
		"Service": req.Service,
		"Runtime": req.Runtime,
		"Status":  status,
		"PASSED":  sortedCopy(req.PassedDevices),
		"FAILED":  sortedCopy(req.FailedDevices),
	}
	if req.Results != nil {
		summary["Results"] = req.Results
	}
	if req.AppAddress != "" && req.ServiceID != "" {
		summary["Link"] = fmt.Sprintf("%s/runs/%s/services/%s", strings.TrimRight(req.AppAddress, "/"), req.Runtime, req.ServiceID)
	}
	if req.HeaderTemplate != "" && d.Sub != nil {
		header, err := d.Sub(req.HeaderTemplate, req.Variables)
		if err != nil {
			summary["notification"] = notificationError(string(req.Transport), err)
			return summary
		}
		summary["Header"] = header
	}
	if req.IncludeDeviceResults {
		summary["DeviceResults"] = req.DeviceResults
	}

	if err := d.send(ctx, req, summary, status); err != nil {
		summary["notification"] = notificationError(string(req.Transport), err)
	}
	return summary
}

func (d *Dispatcher) send(ctx context.Context, req Request, summary map[string]any, status Status) error {
	switch req.Transport {
	case TransportEmail:
		if d.Email == nil {
			return fmt.Errorf("notify: no email sender configured")
		}
		subject := fmt.Sprintf("%s: %s", status, req.Service)
		body := fmt.Sprintf("%v", summary)
		var attachment map[string]string
		if req.IncludeDeviceResults {
			attachment = map[string]string{"device_results.txt": fmt.Sprintf("%v", req.DeviceResults)}
		}
		return d.Email.Send(ctx, req.Destination, subject, body, attachment)
	case TransportChat:
		if d.Chat == nil {
			return fmt.Errorf("notify: no chat sender configured")
		}
		return d.Chat.Post(ctx, req.Destination, fmt.Sprintf("%v", summary))
	case TransportWebhook:
		if d.Webhook == nil {
			return fmt.Errorf("notify: no webhook sender configured")
		}
		return d.Webhook.Post(ctx, req.Destination, req.Service, fmt.Sprintf("%v", summary))
	default:
		return fmt.Errorf("notify: unknown transport %q", req.Transport)
	}
}

func notificationError(transport string, err error) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf("notification via %s failed: %v", transport, err)}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
