package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wheelsup-data/flightschool-etl/internal/catalog"
	"github.com/wheelsup-data/flightschool-etl/internal/identity"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

var seedsCmd = &cobra.Command{
	Use:   "seeds",
	Short: "Build and print the deduplicated seed catalog without crawling",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := model.LoadSources(cfg.Sources.Path)
		if err != nil {
			return err
		}

		facilityCodes, err := identity.LoadFacilityCodes(cfg.Sources.FacilityPath)
		if err != nil && !os.IsNotExist(eris.Cause(err)) {
			return err
		}

		builder := catalog.NewBuilder(identity.NewResolver(facilityCodes), nil)
		seeds, report, err := builder.BuildSeeds(cmd.Context(), sources)
		if err != nil {
			return err
		}

		out := struct {
			Report *catalog.DiscoveryReport `json:"report"`
			Seeds  []model.SeedRecord       `json:"seeds"`
		}{report, seeds}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(seedsCmd)
}
