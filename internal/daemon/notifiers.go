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

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strings"
)

// smtpSender delivers notification email through a plain SMTP relay.
type smtpSender struct {
	host string
	port int
	from string
}

func (s *smtpSender) Send(_ context.Context, to, subject, body string, attachment map[string]string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(body)
	for name, content := range attachment {
		msg.WriteString("\r\n\r\n--- ")
		msg.WriteString(name)
		msg.WriteString(" ---\r\n")
		msg.WriteString(content)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, strings.Split(to, ","), []byte(msg.String()))
}

// chatSender posts to a bot-token-authenticated chat API. The token comes
// from the environment so it never lands in persisted configuration.
type chatSender struct {
	tokenEnv string
	client   *http.Client
	apiURL   string
}

func (c *chatSender) Post(ctx context.Context, channel, text string) error {
	token := os.Getenv(c.tokenEnv)
	if token == "" {
		return fmt.Errorf("daemon: chat token env %s is not set", c.tokenEnv)
	}

	body, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return fmt.Errorf("daemon: marshal chat message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daemon: build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon: chat post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon: chat API returned status %d", resp.StatusCode)
	}
	return nil
}
