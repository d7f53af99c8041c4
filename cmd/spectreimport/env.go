package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spectreimport/internal/app"
	"spectreimport/internal/config"
	apperrors "spectreimport/internal/errors"
	"spectreimport/internal/jobstore"
	"spectreimport/internal/spectre"
	"spectreimport/internal/ui"
	"spectreimport/pkg/importjob"
)

const defaultConfigFile = "spectreimport.yaml"

// env holds the collaborators built for one command invocation.
type env struct {
	store    *jobstore.Store
	registry *app.Registry
	engine   *app.Engine
	console  *ui.Console
	logger   *slog.Logger
}

func withEnv(cmd *cobra.Command, run func(e *env) error) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.store.Close(); closeErr != nil {
			e.logger.Warn("Failed to close job database", "error", closeErr)
		}
	}()
	return run(e)
}

func newEnv(cmd *cobra.Command) (*env, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("config") {
		// The default file is optional; settings may come from the environment.
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			configFile = ""
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, apperrors.NewConfigError(
			"Failed to load configuration",
			err.Error(),
			fmt.Sprintf("Create %s or set %s_PROVIDER_APP_ID and %s_PROVIDER_SECRET", defaultConfigFile, config.EnvPrefix, config.EnvPrefix),
			err,
		)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := spectre.NewClient(cfg.Provider, logger)
	if err != nil {
		return nil, apperrors.NewConfigError(
			"Failed to configure the provider client",
			err.Error(),
			"Check the provider section of the configuration",
			err,
		)
	}

	store, err := jobstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, apperrors.NewStorageError(
			"Failed to open the job database",
			err.Error(),
			fmt.Sprintf("Check that %s is writable", cfg.Store.Path),
			err,
		)
	}

	registry := app.NewRegistry(app.Dependencies{Client: client, Logger: logger})
	return &env{
		store:    store,
		registry: registry,
		engine:   app.NewEngine(registry, store, logger),
		console:  ui.NewConsole(),
		logger:   logger,
	}, nil
}

func (e *env) createJob(ctx context.Context, userID int64, customerID string) error {
	configuration := map[string]any{}
	if customerID != "" {
		configuration[importjob.KeyCustomerID] = customerID
	}

	job, err := e.store.ForUser(userID).Create(ctx, configuration)
	if err != nil {
		return apperrors.NewStorageError("Failed to create import job", err.Error(), "", err)
	}
	e.logger.Info("Created import job", "jobId", job.ID, "userId", userID)
	e.console.PrintSuccess(fmt.Sprintf("Created import job %s", job.ID))
	return nil
}

func (e *env) listJobs(ctx context.Context, userID int64) error {
	jobs, err := e.store.ForUser(userID).List(ctx)
	if err != nil {
		return apperrors.NewStorageError("Failed to list import jobs", err.Error(), "", err)
	}
	if len(jobs) == 0 {
		e.console.PrintInfo(fmt.Sprintf("No import jobs for user %d", userID))
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Stage),
			strconv.FormatInt(job.Version, 10),
			job.UpdatedAt.Format(time.RFC3339),
		})
	}
	e.console.PrintTable([]string{"Job", "Stage", "Version", "Updated"}, rows)
	return nil
}

func (e *env) showJob(ctx context.Context, jobID string, userID int64) error {
	result, err := e.engine.Show(ctx, jobID, userID)
	if err != nil {
		return err
	}
	e.printResult(result)
	return nil
}

func (e *env) configure(ctx context.Context, jobID string, userID int64, data map[string]any) error {
	result, err := e.engine.Dispatch(ctx, jobID, userID, data)
	if err != nil {
		return err
	}

	for _, msg := range result.Messages.Messages() {
		switch msg.Kind {
		case app.MessageProvider:
			e.console.PrintError(msg.Text)
		default:
			e.console.PrintWarning(msg.Text)
		}
	}
	if hint := retryHint(result.Messages); hint != "" {
		e.console.PrintInfo(hint)
	}

	e.printResult(result)
	if !result.Messages.Empty() {
		return errMessagesReturned
	}
	return nil
}

// retryHint tells the user how to react to provider messages.
func retryHint(messages app.MessageBag) string {
	switch {
	case messages.Temporary():
		return "The provider is temporarily unavailable; retry the same step later"
	case messages.Retryable():
		return "The provider rejected the request; check the details and run the step again"
	default:
		return ""
	}
}

func (e *env) printResult(result *app.Result) {
	state := "in progress"
	if result.Complete {
		state = "ready for import"
	}
	e.console.PrintInfo(fmt.Sprintf("Job %s is at stage %q (%s)", result.Job.ID, result.Job.Stage, state))
	e.console.PrintInfo(fmt.Sprintf("Next view: %s", result.View))
	e.console.PrintData(result.Data)
}

func (e *env) printStages() {
	rows := make([][]string, 0)
	for _, stage := range e.registry.Stages() {
		terminal := ""
		if stage.Terminal() {
			terminal = "yes"
		}
		rows = append(rows, []string{strconv.Itoa(stage.Position() + 1), string(stage), terminal})
	}
	e.console.PrintTable([]string{"#", "Stage", "Terminal"}, rows)
}

// parseData turns key=value pairs into the data mapping submitted to a stage.
// A key given more than once becomes a list.
func parseData(pairs []string, accounts []string) (map[string]any, error) {
	data := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, apperrors.NewValidationError(
				"Invalid --set value",
				fmt.Sprintf("%q is not a key=value pair", pair),
				"Use --set key=value, for example --set login=new",
				fmt.Errorf("invalid --set value %q", pair),
			)
		}
		switch existing := data[key].(type) {
		case nil:
			data[key] = value
		case string:
			data[key] = []string{existing, value}
		case []string:
			data[key] = append(existing, value)
		}
	}
	if len(accounts) > 0 {
		data[importjob.KeyAccounts] = accounts
	}
	return data, nil
}
