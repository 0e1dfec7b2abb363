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

package secret

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring stores credentials in the operating-system keychain. The
// "ciphertext" handed around is just the keyring entry name; the OS holds
// the actual secret.
type Keyring struct {
	// ServiceName namespaces entries in the OS keychain.
	ServiceName string
}

// NewKeyring returns a Keyring namespaced under serviceName.
func NewKeyring(serviceName string) *Keyring {
	if serviceName == "" {
		serviceName = "netrunner"
	}
	return &Keyring{ServiceName: serviceName}
}

// GetPassword resolves a keyring entry name to its stored secret.
func (k *Keyring) GetPassword(_ context.Context, entry string) (string, error) {
	secret, err := keyring.Get(k.ServiceName, entry)
	if err != nil {
		return "", fmt.Errorf("secret: keyring get %q: %w", entry, err)
	}
	return secret, nil
}

// EncryptPassword stores plaintext under a derived entry name and returns
// that name as the reference callers persist.
func (k *Keyring) EncryptPassword(_ context.Context, plaintext string) (string, error) {
	entry := fmt.Sprintf("cred-%x", hash(plaintext))
	if err := keyring.Set(k.ServiceName, entry, plaintext); err != nil {
		return "", fmt.Errorf("secret: keyring set: %w", err)
	}
	return entry, nil
}

func hash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
