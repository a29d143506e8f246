package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsukumogami/cargo-bootstrap/internal/archive"
	"github.com/tsukumogami/cargo-bootstrap/internal/config"
	"github.com/tsukumogami/cargo-bootstrap/internal/lockfile"
	"github.com/tsukumogami/cargo-bootstrap/internal/resolver"
)

var featuresFlag []string

var resolveCmd = &cobra.Command{
	Use:   "resolve [crate-dir]",
	Short: "Resolve a crate's dependency graph against its Cargo.lock",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveTree(args)
		if err != nil {
			exitWithCode(ExitResolveFailed)
			return err
		}
		printTree(root, 0, map[string]bool{})
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringSliceVar(&featuresFlag, "features", nil, "Optional dependencies to enable regardless of feature propagation")
}

// buildContext loads configuration, the lockfile, and the archive cache
// shared by the resolve and build commands.
func buildContext(crateDir string) (*resolver.Context, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, "", fmt.Errorf("failed to prepare directories: %w", err)
	}

	lf, err := lockfile.Load(crateDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load Cargo.lock: %w", err)
	}

	store := archive.New(cfg.CacheDir)
	ctx := resolver.NewContext(cfg.TargetTriple, cfg.HostTriple, store, lf, featuresFlag)
	return ctx, cfg.OutDir, nil
}

func resolveTree(args []string) (*resolver.CrateNode, error) {
	crateDir := "."
	if len(args) == 1 {
		crateDir = args[0]
	}

	ctx, _, err := buildContext(crateDir)
	if err != nil {
		return nil, err
	}

	root, err := ctx.Resolve(crateDir)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// printTree prints a namever tree to stdout, guarding against cycles with
// a visited set (the resolver's graph is a DAG, but a crate can be
// reached through more than one path).
func printTree(n *resolver.CrateNode, depth int, seen map[string]bool) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Fprintf(os.Stdout, "%s%s\n", indent, n.Namever())

	if seen[n.Namever()] {
		return
	}
	seen[n.Namever()] = true
	for _, edge := range n.Deps {
		printTree(edge.To, depth+1, seen)
	}
}
