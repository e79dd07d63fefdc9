package main

// Standalone CLI binary wiring the wallet and wallet_mgmt command
// trees into a single root command, exercising RegisterWallet and
// RegisterWalletMgmt.

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/cmd/cli"
)

func main() {
	root := &cobra.Command{Use: "doge-wallet"}
	cli.RegisterWallet(root)
	cli.RegisterWalletMgmt(root)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
