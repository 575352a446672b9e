// cloudbridge - A Matrix bridge for Meta Messenger and the WhatsApp Cloud API.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package bridge

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

type HomeserverConfig struct {
	Address string `yaml:"address"`
	// PublicAddress is used to build media download URLs handed to the remote
	// platforms; falls back to Address when unset.
	PublicAddress string `yaml:"public_address"`
	Domain        string `yaml:"domain"`
}

type AppServiceConfig struct {
	ID             string `yaml:"id"`
	BotUsername    string `yaml:"bot_username"`
	BotDisplayname string `yaml:"bot_displayname"`
	ASToken        string `yaml:"as_token"`
	HSToken        string `yaml:"hs_token"`
	Hostname       string `yaml:"hostname"`
	Port           uint16 `yaml:"port"`
}

type BridgeConfig struct {
	// UsernameTemplate must contain {userid}; the ghost localpart is the
	// template with {userid} replaced by "<network>_<remote account id>".
	UsernameTemplate    string `yaml:"username_template"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	displaynameTemplate *template.Template

	FederateRooms bool `yaml:"federate_rooms"`
	BridgeNotices bool `yaml:"bridge_notices"`
}

type WebhookConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// VerifyToken is echoed back in the Meta/WhatsApp subscription handshake.
	VerifyToken  string `yaml:"verify_token"`
	SharedSecret string `yaml:"shared_secret"`
}

type NetworkConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Version        string        `yaml:"version"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	URI          string `yaml:"uri"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	AppService AppServiceConfig  `yaml:"appservice"`
	Bridge     BridgeConfig      `yaml:"bridge"`
	Webhook    WebhookConfig     `yaml:"webhook"`
	Meta       NetworkConfig     `yaml:"meta"`
	WhatsApp   NetworkConfig     `yaml:"whatsapp"`
	Database   DatabaseConfig    `yaml:"database"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) PostProcess() error {
	if !strings.Contains(cfg.Bridge.UsernameTemplate, "{userid}") {
		return fmt.Errorf("bridge.username_template must contain {userid}")
	}
	var err error
	cfg.Bridge.displaynameTemplate, err = template.New("displayname").Parse(cfg.Bridge.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse bridge.displayname_template: %w", err)
	}
	if cfg.Homeserver.PublicAddress == "" {
		cfg.Homeserver.PublicAddress = cfg.Homeserver.Address
	}
	if cfg.Meta.RequestTimeout <= 0 {
		cfg.Meta.RequestTimeout = 30 * time.Second
	}
	if cfg.WhatsApp.RequestTimeout <= 0 {
		cfg.WhatsApp.RequestTimeout = 30 * time.Second
	}
	return nil
}

type DisplaynameParams struct {
	Name     string
	Username string
	ID       string
	Network  string
}

func (bc *BridgeConfig) FormatDisplayname(params DisplaynameParams) string {
	var buf strings.Builder
	err := bc.displaynameTemplate.Execute(&buf, &params)
	if err != nil {
		return params.ID
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return params.ID
	}
	return name
}

// GhostIDTemplate derives the pure ghost-mxid mapping from the config.
func (cfg *Config) GhostIDTemplate() GhostIDTemplate {
	prefix, suffix, _ := strings.Cut(cfg.Bridge.UsernameTemplate, "{userid}")
	return GhostIDTemplate{
		prefix: prefix,
		suffix: suffix,
		domain: cfg.Homeserver.Domain,
	}
}
