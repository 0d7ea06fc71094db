package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wheelsup-data/flightschool-etl/internal/publish"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply relational store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.DatabaseURL == "" {
			return eris.New("store.database_url is required")
		}

		pg, err := publish.NewPostgres(cmd.Context(), cfg.Store.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "connect store")
		}
		defer pg.Close()

		if err := pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
