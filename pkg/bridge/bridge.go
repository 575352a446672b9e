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

// Package bridge contains the cross-platform mapping and sync engine: the
// User/Puppet/Portal registries, the Matrix and webhook event handlers, and
// the outbound dispatch logic. Everything network-specific is behind
// platform.Adapter; everything Matrix-specific is behind MatrixConnector.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform"
)

var (
	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudbridge_inbound_events_total",
		Help: "Inbound webhook events by network and handling result.",
	}, []string{"network", "result"})
	outboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudbridge_outbound_sends_total",
		Help: "Matrix-originated sends to remote networks by result.",
	}, []string{"network", "result"})
)

type Bridge struct {
	Config *Config
	Log    zerolog.Logger
	DB     *database.Database
	Matrix MatrixConnector
	IDs    GhostIDTemplate

	Websrv *fiber.App

	adapters map[platform.Network]platform.Adapter

	usersLock    sync.Mutex
	usersByMXID  map[id.UserID]*User
	usersByAppID map[string]*User

	// puppetsLock is held across load-or-insert, the single-flight guard
	// against duplicate puppet rows on concurrent first contact.
	puppetsLock sync.Mutex
	puppets     map[platform.AccountRef]*Puppet

	// portalsLock is the portal creation lock; room creation has its own
	// per-portal lock inside Portal.
	portalsLock   sync.Mutex
	portalsByKey  map[database.PortalKey]*Portal
	portalsByMXID map[id.RoomID]*Portal
}

func New(cfg *Config, log zerolog.Logger, db *database.Database, matrix MatrixConnector, adapters ...platform.Adapter) *Bridge {
	br := &Bridge{
		Config: cfg,
		Log:    log,
		DB:     db,
		Matrix: matrix,
		IDs:    cfg.GhostIDTemplate(),

		adapters: make(map[platform.Network]platform.Adapter, len(adapters)),

		usersByMXID:   make(map[id.UserID]*User),
		usersByAppID:  make(map[string]*User),
		puppets:       make(map[platform.AccountRef]*Puppet),
		portalsByKey:  make(map[database.PortalKey]*Portal),
		portalsByMXID: make(map[id.RoomID]*Portal),
	}
	for _, adapter := range adapters {
		br.adapters[adapter.Network()] = adapter
	}
	br.Websrv = br.newWebServer()
	return br
}

func (br *Bridge) Adapter(network platform.Network) (platform.Adapter, error) {
	adapter, ok := br.adapters[network]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for network %q", network)
	}
	return adapter, nil
}

// Start upgrades the database schema, warms the portal registry and begins
// serving webhooks. The Matrix
// side (appservice transactions) is started separately by the caller so tests
// can run the core without it.
func (br *Bridge) Start(ctx context.Context) error {
	if err := br.DB.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	if err := br.loadPortals(ctx); err != nil {
		return err
	}
	br.Log.Info().Str("listen_address", br.Config.Webhook.ListenAddress).Msg("Starting webhook server")
	go func() {
		err := br.Websrv.Listen(br.Config.Webhook.ListenAddress)
		if err != nil {
			br.Log.Fatal().Err(err).Msg("Webhook server died")
		}
	}()
	return nil
}

func (br *Bridge) Stop() {
	if err := br.Websrv.Shutdown(); err != nil {
		br.Log.Warn().Err(err).Msg("Failed to shut down webhook server cleanly")
	}
	br.DB.Close()
}
