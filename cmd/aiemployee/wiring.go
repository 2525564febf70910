package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/adapters/gmail"
	"github.com/c360studio/aiemployee/adapters/instagram"
	"github.com/c360studio/aiemployee/adapters/linkedin"
	"github.com/c360studio/aiemployee/adapters/odoo"
	"github.com/c360studio/aiemployee/adapters/whatsapp"
	"github.com/c360studio/aiemployee/config"
)

// registerAdapters registers one adapters.Channel per enabled watcher.
// In mock mode every channel is a synthetic mockChannel; in real mode
// each adapter is constructed from the per-adapter credential blob in
// cfg.Secrets.Dir, per the secrets-directory layout of §6.
func registerAdapters(cfg *config.Config, mode string, logger *slog.Logger) error {
	if mode == "mock" {
		for name, w := range cfg.Watchers {
			if w.Enabled {
				adapters.Register(newMockChannel(name))
			}
		}
		return nil
	}

	secretsDir := cfg.Secrets.Dir
	if secretsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve secrets dir: %w", err)
		}
		secretsDir = filepath.Join(home, ".config", "aiemployee", "secrets")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	if w, ok := cfg.Watchers["gmail"]; ok && w.Enabled {
		var tok struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			Identity     string `json:"identity"`
		}
		if err := readSecretJSON(secretsDir, "gmail_token.json", &tok); err != nil {
			return fmt.Errorf("gmail credentials: %w", err)
		}
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken})
		adapters.Register(gmail.New(httpClient, source, tok.Identity))
	}

	if w, ok := cfg.Watchers["linkedin"]; ok && w.Enabled {
		var tok struct {
			Token string `json:"token"`
		}
		if err := readSecretJSON(secretsDir, "linkedin_token.json", &tok); err != nil {
			return fmt.Errorf("linkedin credentials: %w", err)
		}
		adapters.Register(linkedin.New(httpClient, tok.Token))
	}

	if w, ok := cfg.Watchers["instagram"]; ok && w.Enabled {
		var creds struct {
			Token      string `json:"token"`
			BusinessID string `json:"business_id"`
		}
		if err := readSecretJSON(secretsDir, "instagram_credentials.json", &creds); err != nil {
			return fmt.Errorf("instagram credentials: %w", err)
		}
		adapters.Register(instagram.New(httpClient, creds.Token, creds.BusinessID))
	}

	if w, ok := cfg.Watchers["whatsapp"]; ok && w.Enabled {
		adapters.Register(whatsapp.New(httpClient, os.Getenv("AIEMPLOYEE_WHATSAPP_BRIDGE_URL"), filepath.Join(secretsDir, "whatsapp_session")))
	}

	if w, ok := cfg.Watchers["odoo"]; ok && w.Enabled {
		var creds struct {
			BaseURL  string `json:"base_url"`
			DB       string `json:"db"`
			UID      int    `json:"uid"`
			Password string `json:"password"`
		}
		if err := readSecretJSON(secretsDir, "odoo_credentials.json", &creds); err != nil {
			return fmt.Errorf("odoo credentials: %w", err)
		}
		adapters.Register(odoo.New(httpClient, creds.BaseURL, creds.DB, creds.UID, creds.Password))
	}

	return nil
}

func readSecretJSON(dir, name string, out any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
