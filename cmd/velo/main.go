package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envConfig = "VELO_CONFIG"

var (
	// Global flags
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "velo",
	Short: "velo - paced bulk messaging campaigns",
	Long: `velo sends one personalised message per contact from a CSV list,
spacing sends with human-like delays. Progress is saved after every contact,
so an interrupted campaign resumes where it stopped.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv(envConfig), "config file (json or yaml); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets (ignored when missing)")

	rootCmd.AddCommand(
		runCmd,
		previewCmd,
		statusCmd,
		resetCmd,
		exportCmd,
	)
}

// loadEnv reads the dotenv file before any config is parsed. Variables
// already set in the environment win.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", envFile, err)
	}
	if cfgPath == "" {
		cfgPath = os.Getenv(envConfig)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
