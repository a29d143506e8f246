package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cargo-bootstrap/internal/config"
	"github.com/tsukumogami/cargo-bootstrap/internal/registryclient"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <crate> <version>",
	Short: "Download a crate archive from crates.io into the local cache",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, version := args[0], args[1]

		cfg, err := config.Load()
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		dest := filepath.Join(cfg.CacheDir, fmt.Sprintf("%s-%s.crate", name, version))
		client := registryclient.New()
		if err := client.DownloadCrate(globalCtx, name, version, dest); err != nil {
			exitWithCode(ExitNetwork)
			return fmt.Errorf("failed to download %s-%s: %w", name, version, err)
		}

		fmt.Fprintf(os.Stdout, "fetched %s-%s -> %s\n", name, version, dest)
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "versions <crate>",
	Short: "List published versions of a crate from crates.io",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := registryclient.New()
		meta, err := client.FetchCrateMetadata(globalCtx, args[0])
		if err != nil {
			exitWithCode(ExitNetwork)
			return fmt.Errorf("failed to fetch metadata for %s: %w", args[0], err)
		}

		for _, v := range meta.Versions {
			fmt.Fprintln(os.Stdout, v)
		}
		return nil
	},
}

func init() {
	fetchCmd.AddCommand(metadataCmd)
}
