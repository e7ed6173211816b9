// Command walletkit inspects, validates and submits Solana wire
// transactions and checks RPC endpoint health
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
