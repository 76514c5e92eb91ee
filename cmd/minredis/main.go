// Command minredis runs a minredis node.
//
// Configuration comes from flags or MINREDIS_* environment variables
// (e.g. MINREDIS_REPLICAOF="localhost 6379"), optionally loaded from .env
// and .env.local.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
