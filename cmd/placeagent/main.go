package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nowwhat/placeagent/config"
	"github.com/nowwhat/placeagent/internal/geocode"
	"github.com/nowwhat/placeagent/internal/location"
	srv "github.com/nowwhat/placeagent/internal/server"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "placeagent"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}

	var migDir, direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	resolve := &cobra.Command{
		Use:   "resolve [location]",
		Short: "Resolve a location string through the tiered resolver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()

			var store location.Store
			if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
				pg, err := location.NewPostgresStore(dsn)
				if err != nil {
					return err
				}
				defer pg.Close()
				store = pg
			} else {
				store = location.NewMemoryStore()
			}

			geocoder := geocode.NewClient(cfg.Tools.Geocoder.BaseURL, cfg.Tools.Geocoder.UserAgent, cfg.Tools.Geocoder.Timeout)
			resolver, err := location.NewResolver(ctx, store, geocoder, cfg.Location.FuzzyThreshold, nil, nil)
			if err != nil {
				return err
			}
			rec, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	root.AddCommand(serve, migrateCmd, resolve)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
