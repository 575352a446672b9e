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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v2"
	"go.mau.fi/util/dbutil"

	"github.com/lrhodin/cloudbridge/pkg/bridge"
	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform/meta"
	"github.com/lrhodin/cloudbridge/pkg/platform/whatsapp"
)

var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	_ = godotenv.Load()
	app := &cli.App{
		Name:    "cloudbridge",
		Usage:   "A Matrix bridge for Meta Messenger and the WhatsApp Cloud API",
		Version: fmt.Sprintf("0.1.0 (%s, commit %s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				EnvVars: []string{"CLOUDBRIDGE_CONFIG"},
				Usage:   "Path to the config file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := bridge.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	log.Info().
		Str("version", c.App.Version).
		Msg("Initializing cloudbridge")

	rawDB, err := dbutil.NewWithDialect(cfg.Database.URI, cfg.Database.Type)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.Log = dbutil.ZeroLogger(log.With().Str("component", "database").Logger())
	if cfg.Database.MaxOpenConns > 0 {
		rawDB.RawDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		rawDB.RawDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	db := database.New(rawDB)

	matrix, err := bridge.NewASConnector(cfg, *log)
	if err != nil {
		return err
	}
	br := bridge.New(cfg, *log, db, matrix,
		meta.NewClient(cfg.Meta.BaseURL, cfg.Meta.Version, cfg.Meta.RequestTimeout, *log),
		whatsapp.NewClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Version, cfg.WhatsApp.RequestTimeout, *log),
	)
	bridge.NewMatrixHandler(br, matrix)

	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	defer cancel()
	if err = br.Start(ctx); err != nil {
		return err
	}
	matrix.Start(ctx)
	log.Info().Msg("Bridge started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info().Msg("Shutting down")
	matrix.Stop()
	br.Stop()
	return nil
}
