/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-stream/internal/bootstrap"
	"github.com/spf13/cobra"
)

// streamGatewayCmd represents the stream-gateway command
var streamGatewayCmd = &cobra.Command{
	Use:   "stream-gateway",
	Short: "Market data stream gateway",
	Long: `Stream Gateway serves market data ticks to websocket clients.

This service:
- Verifies bearer tokens and admits at most one connection per session
- Replays every loaded symbol feed on a fixed interval
- Routes ticks to the symbol each client is subscribed to
- Exposes the admin broadcast control API and the admin order feed`,
	Run: bootstrap.StartStreamGateway,
}

func init() {
	rootCmd.AddCommand(streamGatewayCmd)
}
