package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the release version, set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell is a zero-knowledge sync server for encrypted notes",
	Long: `A sync and sharing server for end-to-end encrypted personal knowledge
bases. The server stores ciphertext and relays opaque update frames;
keys and plaintext never leave the client.
Complete documentation is available at https://github.com/jmcleod/inkwell`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
