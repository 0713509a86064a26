package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "continuum.yaml"

// buildServeCmd creates the "serve" command that starts the runtime.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the continuum runtime",
		Long: `Start the continuum runtime for every persona configured in
the channel registry.

The server will:
1. Load configuration from the specified file (or continuum.yaml)
2. Open the storage adapter (sqlite or postgres, by database.url)
3. Start the module runtime and register built-in modules
4. Start the 60-second channel-registry scheduler
5. Block until SIGINT/SIGTERM, then shut down cleanly`,
		Example: `  # Start with default config
  continuumd serve

  # Start with custom config
  continuumd serve --config /etc/continuum/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

// buildDoctorCmd creates the "doctor" command for config validation.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and confirm storage connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildPipelineCmd creates the "pipeline" command group.
func buildPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run pipeline definitions against the runtime",
	}
	cmd.AddCommand(buildPipelineRunCmd())
	return cmd
}

func buildPipelineRunCmd() *cobra.Command {
	var (
		configPath string
		file       string
		handle     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline definition to completion and print its result",
		Example: `  continuumd pipeline run --file ./pipeline.json --handle my-persona`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, configPath, file, handle)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a JSON pipeline definition (required)")
	cmd.Flags().StringVar(&handle, "handle", "default", "Execution handle recorded in the result")
	cobra.CheckErr(cmd.MarkFlagRequired("file"))

	return cmd
}
