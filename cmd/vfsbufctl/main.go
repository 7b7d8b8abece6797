// vfsbufctl is a diagnostic tool over SingleBuffer-backed file system
// images: it formats buffer files, dumps their superblock and metadata
// chain, and moves files in and out of the image through the full VFS
// stack.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodefs/corefs/cfg"
	"github.com/inodefs/corefs/logger"
)

var (
	cfgFile string
	bindErr error
	config  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "vfsbufctl",
	Short: "Inspect and manipulate SingleBuffer file system images",
	Long: `vfsbufctl formats, inspects, and edits file system images stored in
the single-buffer format: one contiguous byte file holding a checksummed
superblock, a generation-chained metadata index, and a data region.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file: %w", err)
			}
		}
		var err error
		config, err = cfg.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("unmarshalling config: %w", err)
		}
		if err := cfg.Validate(&config); err != nil {
			return err
		}
		logger.Init(config.Logging)
		return nil
	},
}

func init() {
	cobra.EnableCommandSorting = false
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config file")
	bindErr = cfg.BindFlags(viper.GetViper(), rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
