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

// Package secret wraps the credential-protection boundary: ciphertext in,
// plaintext out and back. Two backends are provided — a symmetric-key box
// for self-contained deployments and the operating-system keyring for
// on-box credential caching.
package secret

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Service is the engine-facing contract.
type Service interface {
	GetPassword(ctx context.Context, ciphertext string) (string, error)
	EncryptPassword(ctx context.Context, plaintext string) (string, error)
}

// Box encrypts and decrypts with a 32-byte symmetric key, nonce-prefixed
// and base64-armored so ciphertexts survive storage in text columns.
type Box struct {
	key [32]byte
}

// NewBox constructs a Box from a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret: key must be 32 bytes, got %d", len(key))
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// EncryptPassword seals plaintext under a fresh random nonce.
func (b *Box) EncryptPassword(_ context.Context, plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// GetPassword opens a ciphertext produced by EncryptPassword.
func (b *Box) GetPassword(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secret: decode: %w", err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("secret: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", fmt.Errorf("secret: decryption failed")
	}
	return string(opened), nil
}
