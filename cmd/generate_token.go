/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"time"

	"github.com/krobus00/market-stream/internal/bootstrap"
	"github.com/spf13/cobra"
)

// generateTokenCmd represents the generate-token command
var generateTokenCmd = &cobra.Command{
	Use:   "generate-token",
	Short: "generate a development bearer token",
	Long:  `generate a bearer token signed with the configured jwt secret`,
	Run:   bootstrap.StartGenerateToken,
}

func init() {
	rootCmd.AddCommand(generateTokenCmd)
	generateTokenCmd.Flags().String("subject", "dev", "token subject")
	generateTokenCmd.Flags().String("user", "", "user id (default: subject)")
	generateTokenCmd.Flags().String("session", "", "session id (default: random uuid)")
	generateTokenCmd.Flags().StringSlice("permissions", []string{"read"}, "comma separated permissions, e.g. read,admin")
	generateTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
