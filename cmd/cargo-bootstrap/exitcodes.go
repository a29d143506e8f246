package main

import "os"

// Exit codes for different failure modes, so callers scripting this tool
// can distinguish them without parsing stderr.
const (
	ExitSuccess = 0

	// ExitGeneral indicates an uncategorized error.
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or usage error.
	ExitUsage = 2

	// ExitResolveFailed indicates dependency resolution failed.
	ExitResolveFailed = 3

	// ExitBuildFailed indicates a compile or build-script step failed.
	ExitBuildFailed = 4

	// ExitNetwork indicates a registry fetch/download error.
	ExitNetwork = 5

	// ExitCancelled indicates the operation was interrupted.
	ExitCancelled = 6
)

func exitWithCode(code int) {
	os.Exit(code)
}
