package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/prismplay/internal/config"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "prismplay",
		Short:         "Play a live prism channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: prismplay.yaml in ., ~/.config/prismplay, /etc/prismplay)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newPlayCmd(v), newVersionCmd())
	return root
}

// bindFlags maps dashed flag names onto config keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}
