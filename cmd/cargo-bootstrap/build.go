package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cargo-bootstrap/internal/builder"
	"github.com/tsukumogami/cargo-bootstrap/internal/config"
	"github.com/tsukumogami/cargo-bootstrap/internal/log"
)

var buildCmd = &cobra.Command{
	Use:   "build [crate-dir]",
	Short: "Resolve and compile a crate and its full dependency graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		crateDir := "."
		if len(args) == 1 {
			crateDir = args[0]
		}

		ctx, outDir, err := buildContext(crateDir)
		if err != nil {
			exitWithCode(ExitResolveFailed)
			return err
		}

		root, err := ctx.Resolve(crateDir)
		if err != nil {
			exitWithCode(ExitResolveFailed)
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			exitWithCode(ExitGeneral)
			return err
		}

		b := builder.New(cfg.TargetTriple, cfg.HostTriple, outDir, cfg.RustcPath, cfg.Jobs, log.Default())
		outcome, err := b.Build(root)
		if err != nil {
			exitWithCode(ExitBuildFailed)
			return err
		}

		if outcome.Extern != nil {
			fmt.Fprintf(os.Stdout, "built %s -> %s\n", root.Namever(), outcome.Extern.LibPath)
		} else {
			fmt.Fprintf(os.Stdout, "built %s\n", root.Namever())
		}
		return nil
	},
}
