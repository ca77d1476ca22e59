package main

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var root = &cobra.Command{
		Use:   "scour",
		Short: "Autonomous web-research engine",
	}

	root.AddCommand(serveCMD(), runCMD(), tokenCMD(), migrateCMD(), tailCMD(), versionCMD())
	_ = root.Execute()
}
