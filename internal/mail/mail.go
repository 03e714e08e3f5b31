// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mail sends ban-notification e-mails over SMTP, per spec.md §6's
// mail config shape and §4.5 step 7's "optionally send notification
// e-mail". No SMTP/mailer library appears anywhere in the retrieved
// example pack, so delivery is built on the standard library's net/smtp,
// matching the ambient "stdlib only where nothing in the corpus covers
// it" rule; the config surface still follows the teacher's write-temp-
// then-rename JSON persistence used by internal/config.Store.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"sync"
	"time"
)

// Config is the hot-reloadable SMTP configuration described by spec.md §6.
type Config struct {
	Enabled    bool     `json:"enabled"`
	SMTPServer string   `json:"smtp_server"`
	SMTPPort   int      `json:"smtp_port"`
	UseTLS     bool     `json:"use_tls"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
}

// DefaultConfig returns the settings written to a freshly created mail
// config file.
func DefaultConfig() Config {
	return Config{
		SMTPPort: 587,
		Subject:  "NGINX-SHIELD: IP banned",
	}
}

// Store loads and hot-reloads Config from a JSON file, mirroring
// internal/config.Store's mtime-based reload.
type Store struct {
	path string

	mu      sync.RWMutex
	current Config
	modTime time.Time
}

// NewStore loads path, creating it with DefaultConfig() if absent.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfig(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("creating default mail config: %w", err)
		}
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the currently loaded config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save persists cfg atomically and reloads the in-memory copy.
func (s *Store) Save(cfg Config) error {
	if err := writeConfig(s.path, cfg); err != nil {
		return err
	}
	return s.reload()
}

// Refresh re-stats the backing file and reloads it if the modification time
// has advanced since the last load. Call this from a cadenced sweeper.
func (s *Store) Refresh() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat mail config: %w", err)
	}
	s.mu.RLock()
	stale := info.ModTime().After(s.modTime)
	s.mu.RUnlock()
	if !stale {
		return nil
	}
	return s.reload()
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading mail config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing mail config: %w", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat mail config: %w", err)
	}
	s.mu.Lock()
	s.current = cfg
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

func writeConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling mail config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp mail config: %w", err)
	}
	return os.Rename(tmp, path)
}

var banBodyTemplate = template.Must(template.New("ban").Parse(`<html><body>
<h2>NGINX-SHIELD banned an IP address</h2>
<table>
<tr><td><strong>IP</strong></td><td>{{.IP}}</td></tr>
<tr><td><strong>Reason</strong></td><td>{{.Reason}}</td></tr>
<tr><td><strong>Domain</strong></td><td>{{.Domain}}</td></tr>
<tr><td><strong>Time</strong></td><td>{{.Time}}</td></tr>
</table>
</body></html>`))

type banMailData struct {
	IP, Reason, Domain, Time string
}

// Sender delivers ban-notification e-mails using the Store's current
// configuration. It implements internal/ban.Mailer.
type Sender struct {
	store *Store
}

// NewSender constructs a Sender backed by store.
func NewSender(store *Store) *Sender {
	return &Sender{store: store}
}

// NotifyBan sends a ban notification e-mail if SMTP is enabled. It returns
// nil (no-op) when disabled, so callers can invoke it unconditionally.
func (s *Sender) NotifyBan(ctx context.Context, ip, reason, domain string) error {
	cfg := s.store.Get()
	if !cfg.Enabled || len(cfg.To) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := banBodyTemplate.Execute(&body, banMailData{
		IP: ip, Reason: reason, Domain: domain, Time: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("mail: rendering ban notification: %w", err)
	}

	msg := buildMessage(cfg, body.String())
	return s.send(ctx, cfg, msg)
}

func buildMessage(cfg Config, htmlBody string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", joinAddrs(cfg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", cfg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

func (s *Sender) send(ctx context.Context, cfg Config, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.SMTPServer, cfg.SMTPPort)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer)
	}

	done := make(chan error, 1)
	go func() {
		if cfg.UseTLS {
			done <- sendTLS(addr, cfg.SMTPServer, auth, cfg.From, cfg.To, msg)
			return
		}
		done <- smtp.SendMail(addr, auth, cfg.From, cfg.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mail: sending ban notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
