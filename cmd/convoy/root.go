package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CO3302Group3/convoy/internal/client"
	"github.com/CO3302Group3/convoy/internal/config"
	"github.com/CO3302Group3/convoy/internal/spec"
)

var (
	cfgFile   string
	stackFile string
	envName   string
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Bring service stacks up and down in dependency order",
	Long: `Convoy reads a stack definition (its own YAML format or a Docker
Compose file), computes a staged bring-up plan from service dependencies,
and drives each service to readiness before starting its dependents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.convoy.yaml)")
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7711", "convoyd address")
	rootCmd.PersistentFlags().StringVarP(&stackFile, "file", "f", "", "stack file (default: probe well-known names in the working directory)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment overlay (.env.<name>)")

	viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))

	rootCmd.AddCommand(planCmd, upCmd, downCmd, statusCmd, logsCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".convoy")
	}

	viper.SetEnvPrefix("CONVOY")
	viper.AutomaticEnv()

	viper.ReadInConfig()
}

func daemonClient() *client.Client {
	return client.New(viper.GetString("addr"))
}

// loadStack resolves the stack file (explicit -f or probed from the working
// directory) and loads it with the selected environment overlay.
func loadStack() (*spec.Stack, error) {
	path := stackFile
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path, err = config.Discover(wd)
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path, envName)
}
