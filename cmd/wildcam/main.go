// Wildlife Camera
// Firmware entry point: runs wake cycles against the simulator or a hardware
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var (
	configFile string
	once       bool
	wakeReason string

	rootCmd = &cobra.Command{
		Use:   "wildcam",
		Short: "Wildlife Camera",
		Long:  "Battery powered wildlife camera: motion triggered stills archived to SD and sent to a Telegram chat.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run wake cycles until interrupted",
		RunE:  runCamera,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Wildlife Camera v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/wildcam/wildcam.yaml", "Configuration file path (empty for defaults)")

	runCmd.Flags().BoolVar(&once, "once", false, "Run a single wake cycle and exit instead of sleeping")
	runCmd.Flags().StringVar(&wakeReason, "wake-reason", "", "Wake reason of the first cycle (simulator only): cold_boot, timer, motion")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
