package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "muniagent"}

	root.AddCommand(serveCMD(), migrateCMD(), ingestCMD(), staffCMD())
	_ = root.Execute()
}
