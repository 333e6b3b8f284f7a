package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srand/jolt/bridge/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:   "jolt-bridge",
	Short: "Single node task execution worker",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("bridge.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/jolt/")
		viper.AddConfigPath("$HOME/.config/jolt")
		viper.AddConfigPath(".")
		viper.SetEnvPrefix("jolt")
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			log.Debug(err)
		}

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}
		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity (repeatable)")
	rootCmd.PersistentFlags().Uint32("job", 1, "Job id of objects and tasks")
	rootCmd.PersistentFlags().StringP("store-max-size", "s", "0", "Maximum size of objects in memory, 0 for unlimited")
	rootCmd.PersistentFlags().StringP("spill-path", "p", "", "Directory to spill objects to, or 'memory'")
	rootCmd.PersistentFlags().String("spill-max-size", "1GiB", "Maximum size of spilled objects")
	rootCmd.PersistentFlags().String("inline-threshold", "100KiB", "Combined size of inlined task return values")
	rootCmd.PersistentFlags().IntP("threads", "j", 0, "Number of tasks executed concurrently, 0 for all CPUs")
	rootCmd.PersistentFlags().StringSliceP("resource", "r", nil, "Node resource, name=quantity (repeatable)")

	viper.BindPFlag("job_id", rootCmd.PersistentFlags().Lookup("job"))
	viper.BindPFlag("store_max_size", rootCmd.PersistentFlags().Lookup("store-max-size"))
	viper.BindPFlag("spill_path", rootCmd.PersistentFlags().Lookup("spill-path"))
	viper.BindPFlag("spill_max_size", rootCmd.PersistentFlags().Lookup("spill-max-size"))
	viper.BindPFlag("inline_threshold", rootCmd.PersistentFlags().Lookup("inline-threshold"))
	viper.BindPFlag("threads", rootCmd.PersistentFlags().Lookup("threads"))
	viper.BindPFlag("resources", rootCmd.PersistentFlags().Lookup("resource"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
