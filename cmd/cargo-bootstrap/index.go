package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
	"github.com/tsukumogami/cargo-bootstrap/internal/config"
	"github.com/tsukumogami/cargo-bootstrap/internal/registryindex"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage a local crates.io-style index mirror",
}

var indexPublishCmd = &cobra.Command{
	Use:   "publish <version-json>",
	Short: "Add or replace a version record in the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		name, err := crateNameFromVersionJSON(args[0])
		if err != nil {
			exitWithCode(ExitUsage)
			return err
		}

		path := registryindex.IndexPath(indexRoot(cfg), name)
		if err := registryindex.UpdateEntry(path, []byte(args[0])); err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		fmt.Fprintf(os.Stdout, "published %s -> %s\n", name, path)
		return nil
	},
}

var indexYankCmd = &cobra.Command{
	Use:   "yank <crate> <version>",
	Short: "Mark a published version as yanked",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		name, version := args[0], args[1]
		path := registryindex.IndexPath(indexRoot(cfg), name)

		existing, found, err := registryindex.GetEntry(path, version)
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}
		if !found {
			exitWithCode(ExitUsage)
			return bootstraperr.New(bootstraperr.MissingSource, fmt.Sprintf("%s-%s", name, version), "no published index entry for this version")
		}

		yanked, err := registryindex.SetYanked(existing, true)
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}
		if err := registryindex.UpdateEntry(path, yanked); err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		fmt.Fprintf(os.Stdout, "yanked %s@%s\n", name, version)
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexPublishCmd)
	indexCmd.AddCommand(indexYankCmd)
}

func indexRoot(cfg *config.Config) string {
	return cfg.CacheDir + "-index"
}

func crateNameFromVersionJSON(s string) (string, error) {
	name := gjson.Get(s, "name").String()
	if name == "" {
		return "", fmt.Errorf("version record is missing a \"name\" field")
	}
	return name, nil
}
