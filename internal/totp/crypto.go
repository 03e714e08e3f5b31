// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package totp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo separates the derived key used here from any other consumer of
// the same server passphrase.
const hkdfInfo = "nginx-shield-totp-v1"

// deriveKey expands the server-provided SHIELD_TOTP_KEY passphrase into a
// 32-byte AES-256 key via HKDF-SHA256, so the at-rest envelope isn't keyed
// directly off operator-supplied material.
func deriveKey(passphrase string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("totp: deriving key: %w", err)
	}
	return key, nil
}

// Encryptor seals/opens the TOTP secret and backup-code envelopes stored in
// credentials.totp_secret_encrypted / credentials.backup_codes_encrypted.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives the at-rest key once at startup from passphrase
// (SHIELD_TOTP_KEY); reuse the returned Encryptor for the process lifetime.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, err
	}
	return &Encryptor{key: key}, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns a base64 envelope of
// nonce||ciphertext.
func (e *Encryptor) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("totp: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("totp: building gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("totp: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal.
func (e *Encryptor) Open(envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("totp: decoding envelope: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("totp: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("totp: building gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("totp: envelope too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("totp: opening envelope: %w", err)
	}
	return string(plaintext), nil
}

// SealBackupCodes joins the given backup codes with commas and seals them
// as one envelope.
func (e *Encryptor) SealBackupCodes(codes []string) (string, error) {
	return e.Seal(strings.Join(codes, ","))
}

// OpenBackupCodes reverses SealBackupCodes.
func (e *Encryptor) OpenBackupCodes(envelope string) ([]string, error) {
	plaintext, err := e.Open(envelope)
	if err != nil {
		return nil, err
	}
	if plaintext == "" {
		return nil, nil
	}
	return strings.Split(plaintext, ","), nil
}
