// Command shopctl is the operator CLI: schema migrations, tenant seeding and
// payroll runs.
package main

import (
	"os"

	"github.com/modernmen/shopfront/tools/shopctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
