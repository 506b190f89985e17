// Command xrbridge runs the xRegistry bridge and its upstream facades.
package main

import (
	"os"

	"github.com/xregistry/xrbridge/cmd/xrbridge/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
