/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-stream/internal/bootstrap"
	"github.com/spf13/cobra"
)

// importFeedCmd represents the import-feed command
var importFeedCmd = &cobra.Command{
	Use:   "import-feed",
	Short: "import csv feeds into the market_data database",
	Long:  `import every csv file of a directory into the market_klines table`,
	Run:   bootstrap.StartImportFeed,
}

func init() {
	rootCmd.AddCommand(importFeedCmd)
	importFeedCmd.Flags().String("dir", "", "csv directory (default: feed.data_dir)")
	importFeedCmd.Flags().String("exchange", "", "exchange name (default: feed.exchange)")
	importFeedCmd.Flags().String("interval", "", "kline interval (default: feed.interval)")
}
