package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	apperrors "spectreimport/internal/errors"
)

// version is set at build time via ldflags
var version = "dev"

// errMessagesReturned makes the process exit with status 2 after a configure
// step was rejected with messages.
var errMessagesReturned = errors.New("configure returned messages")

var rootCmd = &cobra.Command{
	Use:     "spectreimport",
	Short:   "SpectreImport - link bank accounts from the Spectre provider",
	Version: version,
	Long: `SpectreImport walks an import job through the provider linking workflow:
choosing a login, authenticating (including challenge round trips) and
selecting the accounts to import.

Each 'configure' call submits one step. Run 'job show' to see what the
current step expects.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and inspect import jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an import job in the 'new' stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		customerID, _ := cmd.Flags().GetString("customer")
		return withEnv(cmd, func(e *env) error {
			return e.createJob(cmd.Context(), userID, customerID)
		})
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current stage of an import job and what it expects next",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		jobID, _ := cmd.Flags().GetString("job")
		return withEnv(cmd, func(e *env) error {
			return e.showJob(cmd.Context(), jobID, userID)
		})
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the import jobs of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		return withEnv(cmd, func(e *env) error {
			return e.listJobs(cmd.Context(), userID)
		})
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Submit data for the current stage of an import job",
	Long: `Configure submits one step of the linking workflow. Values are passed
as --set key=value pairs; repeating a key builds a list. --accounts is a
shortcut for the account selection step.

Exits with status 2 when the step was rejected; the messages explain why.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		jobID, _ := cmd.Flags().GetString("job")
		pairs, _ := cmd.Flags().GetStringArray("set")
		accounts, _ := cmd.Flags().GetStringSlice("accounts")

		data, err := parseData(pairs, accounts)
		if err != nil {
			return err
		}
		return withEnv(cmd, func(e *env) error {
			return e.configure(cmd.Context(), jobID, userID, data)
		})
	},
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the workflow stages in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(e *env) error {
			e.printStages()
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigFile, "Path to the configuration YAML file")

	jobCreateCmd.Flags().Int64("user", 0, "Owning user id (required)")
	jobCreateCmd.Flags().String("customer", "", "Provider customer id")
	markRequired(jobCreateCmd, "user")

	jobShowCmd.Flags().Int64("user", 0, "Owning user id (required)")
	jobShowCmd.Flags().String("job", "", "Import job id (required)")
	markRequired(jobShowCmd, "user", "job")

	jobListCmd.Flags().Int64("user", 0, "Owning user id (required)")
	markRequired(jobListCmd, "user")

	jobCmd.AddCommand(jobCreateCmd, jobShowCmd, jobListCmd)
	rootCmd.AddCommand(jobCmd)

	configureCmd.Flags().Int64("user", 0, "Owning user id (required)")
	configureCmd.Flags().String("job", "", "Import job id (required)")
	configureCmd.Flags().StringArray("set", nil, "Submitted value as key=value (repeatable)")
	configureCmd.Flags().StringSlice("accounts", nil, "Account ids to import, comma separated")
	markRequired(configureCmd, "user", "job")
	rootCmd.AddCommand(configureCmd)

	rootCmd.AddCommand(stagesCmd)
}

func markRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			slog.Error("Failed to mark flag as required", "command", cmd.Name(), "flag", name, "error", err)
		}
	}
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		return
	case errors.Is(err, errMessagesReturned):
		os.Exit(2)
	default:
		if !apperrors.HandleError(err) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}
