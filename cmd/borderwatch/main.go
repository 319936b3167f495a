package main

import (
	_ "time/tzdata"

	"github.com/borderwatch/borderwatch/cli"
)

func main() {
	var rootCmd cli.RootCmd
	rootCmd.RunWithSubcommands(rootCmd.AGPL())
}
