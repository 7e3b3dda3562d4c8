package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/yourusername/gqlsync/internal/client"
	gqlConfig "github.com/yourusername/gqlsync/internal/config"
	"github.com/yourusername/gqlsync/internal/environment"
	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/models"
	"github.com/yourusername/gqlsync/internal/operation"
	"github.com/yourusername/gqlsync/internal/output"
	"github.com/yourusername/gqlsync/internal/schema"
	"github.com/yourusername/gqlsync/internal/store"
)

var (
	configPath string
	serverURL  string
	timeout    time.Duration
	jsonOutput bool
	noColor    bool
	debugMode  bool

	// Operation flags
	opVars      []string
	opName      string
	opEnv       string
	schemaPath  string
	showStore   bool
	saveStore   bool
	eventCount  int
	snapshotArg string
	typeFilter  string

	// Color functions
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	keyColor     = color.New(color.FgYellow)
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "gqlsync",
	Short: "GraphQL over WebSocket client with a normalized cache",
	Long: `gqlsync runs GraphQL queries, mutations and subscriptions over the
graphql-transport-ws protocol (or plain HTTP), normalizing every result into
a local object store shared by all operations.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// pingCmd tests server connectivity
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test connection to the GraphQL server",
	Long:  `Opens a connection, completes the init/ack handshake and measures a ping/pong round trip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		settings := cfg.ToSettings()
		settings.AutoReconnect = false
		c := client.NewClient(settings)
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		status := output.Status{URL: settings.URL}
		err = c.Connect(ctx)
		if err == nil {
			status.RoundTrip, err = c.Ping(ctx)
		}
		status.State = c.Connection().State().String()
		status.IsOpen = c.IsValid()
		status.IsProtocolValid = c.IsProtocolValid()

		if jsonOutput {
			if perr := printJSON(status); perr != nil {
				return perr
			}
		} else {
			output.PrintStatus(os.Stdout, status)
		}
		if err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		if !jsonOutput {
			successColor.Println("✓ Pong received")
		}
		return nil
	},
}

// queryCmd runs a query or mutation once
var queryCmd = &cobra.Command{
	Use:   "query <document|@file>",
	Short: "Run a query or mutation",
	Long: `Runs a query or mutation, writes the result into the store and prints it.

Variables are passed as --var name=value; values that parse as JSON are sent
as JSON, anything else as a string.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, op, err := prepare(args[0])
		if err != nil {
			return err
		}
		defer environment.Shutdown()

		if op.Definition().Kind == operation.Subscription {
			return fmt.Errorf("%s is a subscription, use the subscribe command", op.Definition().Name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := op.Execute(); err != nil {
			return err
		}
		if err := op.Wait(ctx); err != nil {
			return err
		}

		if err := printResult(op); err != nil {
			return err
		}
		return finish(env)
	},
}

// subscribeCmd runs a subscription until it completes
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <document|@file>",
	Short: "Run a subscription",
	Long: `Runs a subscription and prints every result as it arrives. Stops when the
server completes the subscription, after --count results, or on interrupt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, op, err := prepare(args[0])
		if err != nil {
			return err
		}
		defer environment.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// observers run on the network goroutine, so only hand results over
		results := make(chan json.RawMessage, 64)
		done := make(chan struct{}, 1)
		cancelObs := op.OnChange(func(ev operation.Event) {
			switch ev.Kind {
			case operation.DataChanged:
				select {
				case results <- ev.Op.Data():
				default:
					logging.Warn().Str("op", ev.Op.Definition().Name).Msg("dropping result, printer is behind")
				}
			case operation.CompletedChanged:
				if ev.Op.Completed() {
					select {
					case done <- struct{}{}:
					default:
					}
				}
			}
		})
		defer cancelObs()

		if err := op.Execute(); err != nil {
			return err
		}

		received := 0
	loop:
		for eventCount <= 0 || received < eventCount {
			select {
			case data := <-results:
				received++
				if err := output.PrintJSON(os.Stdout, data); err != nil {
					return err
				}
			case <-done:
				break loop
			case <-ctx.Done():
				break loop
			}
		}
		// drain what arrived before completion
		for len(results) > 0 && (eventCount <= 0 || received < eventCount) {
			received++
			if err := output.PrintJSON(os.Stdout, <-results); err != nil {
				return err
			}
		}

		if err := op.Cancel(); err != nil {
			logging.Warn().Err(err).Msg("failed to cancel subscription")
		}
		if err := op.Err(); err != nil {
			return err
		}
		if errs := op.Errors(); len(errs) > 0 && !jsonOutput {
			output.PrintErrors(os.Stderr, errs)
		}
		if !jsonOutput {
			infoColor.Printf("%d results received\n", received)
		}
		return finish(env)
	},
}

// MARK: - Store Commands

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the saved object store",
}

var storeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cached objects from the store snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := snapshotPath()
		if err != nil {
			return err
		}
		st, err := store.LoadFrom(path)
		if err != nil {
			return err
		}

		if jsonOutput {
			snap, err := st.Snapshot()
			if err != nil {
				return err
			}
			return printJSON(snap)
		}

		objects := st.Objects(typeFilter)
		if typeFilter == "" {
			for _, name := range st.Roots() {
				if root, ok := st.Root(name); ok {
					objects = append(objects, root)
				}
			}
		}
		if len(objects) == 0 {
			fmt.Printf("No cached objects in %s\n", path)
			return nil
		}
		output.PrintObjectsTable(os.Stdout, objects)
		fmt.Printf("\nTypes: %s\n", strings.Join(st.Types(), ", "))
		return nil
	},
}

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the store snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := snapshotPath()
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove snapshot: %w", err)
		}
		successColor.Printf("✓ Cleared %s\n", path)
		return nil
	},
}

// MARK: - Config Commands

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for showing and validating gqlsync configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		data, err := cfg.Marshal("yaml")
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := gqlConfig.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		for _, env := range cfg.Environments {
			if env.Schema == "" {
				continue
			}
			if _, err := schema.Load(env.Schema); err != nil {
				return fmt.Errorf("validation failed: environment %s: %w", env.Name, err)
			}
		}

		successColor.Println("✓ Configuration is valid")
		fmt.Printf("  URL: %s\n", cfg.Connection.URL)
		fmt.Printf("  Environments: %s\n", strings.Join(cfg.GetEnvironmentNames(), ", "))
		fmt.Printf("  Snapshot: %s\n", cfg.SnapshotPath())

		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = gqlConfig.GetConfigPath()
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}

		cfg := gqlConfig.Default()
		if serverURL != "" {
			cfg.Connection.URL = serverURL
		}
		if err := cfg.Save(path); err != nil {
			return err
		}

		successColor.Printf("✓ Created default config at: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/gqlsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "Server URL, overrides the config")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(subscribeCmd)

	for _, cmd := range []*cobra.Command{queryCmd, subscribeCmd} {
		cmd.Flags().StringArrayVar(&opVars, "var", nil, "Variable as name=value (repeatable)")
		cmd.Flags().StringVar(&opName, "name", "", "Operation name, required for anonymous documents")
		cmd.Flags().StringVar(&opEnv, "env", "", "Environment from the config (default: default)")
		cmd.Flags().StringVar(&schemaPath, "schema", "", "Schema descriptor file, overrides the environment's")
		cmd.Flags().BoolVar(&showStore, "store", false, "Print the cached objects and operations afterwards")
		cmd.Flags().BoolVar(&saveStore, "save", false, "Save the store snapshot afterwards")
	}
	subscribeCmd.Flags().IntVar(&eventCount, "count", 0, "Stop after this many results (0: until completed)")

	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeShowCmd)
	storeCmd.AddCommand(storeClearCmd)
	storeCmd.PersistentFlags().StringVar(&snapshotArg, "snapshot", "", "Snapshot file, overrides the config")
	storeShowCmd.Flags().StringVar(&typeFilter, "type", "", "Only show objects of this type")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	// Disable color if requested, enable debug logging if requested
	cobra.OnInitialize(func() {
		if noColor {
			color.NoColor = true
		}
		if debugMode {
			logging.SetDebug(true)
		}
	})
}

func main() {
	// Initialize logging
	logging.Init()
	defer logging.Close()

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		logging.Close()
		os.Exit(1)
	}
}

// Helper functions

// loadConfig reads --config, falling back to the default file and then to
// built-in defaults. --url overrides the connection url.
func loadConfig() (*gqlConfig.Config, error) {
	cfg, err := gqlConfig.LoadConfig(configPath)
	if err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		logging.Debug().Err(err).Msg("using default config")
		cfg = gqlConfig.Default()
	}
	if serverURL != "" {
		cfg.Connection.URL = serverURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --url: %w", err)
		}
	}
	return cfg, nil
}

func snapshotPath() (string, error) {
	if snapshotArg != "" {
		return snapshotArg, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.SnapshotPath(), nil
}

// prepare builds the environment named by --env, registers it and returns
// the shared handler for the document
func prepare(document string) (*environment.Environment, *operation.Operation, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	query, err := readDocument(document)
	if err != nil {
		return nil, nil, err
	}
	def, err := operation.Parse(query, opName)
	if err != nil {
		return nil, nil, err
	}
	def.Environment = opEnv

	vars := models.NewVariables()
	for _, v := range opVars {
		name, value, err := gqlConfig.ParseVariable(v)
		if err != nil {
			return nil, nil, err
		}
		vars.Set(name, value)
	}

	env, err := buildEnvironment(cfg, def.Environment)
	if err != nil {
		return nil, nil, err
	}
	if err := environment.Register(env); err != nil {
		env.Close()
		return nil, nil, err
	}

	op, err := environment.Shared(def)
	if err != nil {
		environment.Shutdown()
		return nil, nil, err
	}
	op.SetVariables(vars)
	return env, op, nil
}

func buildEnvironment(cfg *gqlConfig.Config, name string) (*environment.Environment, error) {
	if name == "" {
		name = environment.DefaultName
	}
	envCfg, err := cfg.GetEnvironment(name)
	if err != nil {
		if name != environment.DefaultName {
			return nil, err
		}
		envCfg = &gqlConfig.EnvironmentConfig{Name: name}
	}

	path := schemaPath
	if path == "" {
		path = envCfg.Schema
	}
	if path == "" {
		return nil, fmt.Errorf("no schema descriptor for environment %s: pass --schema or set environments[].schema", name)
	}
	sc, err := schema.Load(path)
	if err != nil {
		return nil, err
	}

	st := store.New()
	if saveStore {
		// extend the saved snapshot rather than replace it
		if st, err = store.LoadFrom(cfg.SnapshotPath()); err != nil {
			return nil, err
		}
	}

	settings := cfg.EnvironmentSettings(envCfg)
	var network client.Network
	switch envCfg.TransportOf() {
	case gqlConfig.TransportHTTP:
		network = client.NewHTTPClient(settings.URL, timeout)
	default:
		c := client.NewClient(settings)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			c.Close()
			return nil, err
		}
		network = c
	}

	logging.Info().Str("env", name).Str("url", settings.URL).Str("transport", string(envCfg.TransportOf())).Msg("environment ready")
	return environment.New(name, network, st, sc), nil
}

func readDocument(arg string) (string, error) {
	if !strings.HasPrefix(arg, "@") {
		return arg, nil
	}
	data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func printResult(op *operation.Operation) error {
	if jsonOutput {
		return printJSON(struct {
			Data   json.RawMessage  `json:"data"`
			Errors models.ErrorList `json:"errors,omitempty"`
		}{op.Data(), op.Errors()})
	}

	if errs := op.Errors(); len(errs) > 0 {
		output.PrintErrors(os.Stderr, errs)
	}
	if op.Data() == nil {
		return errors.New("no data received")
	}
	return output.PrintJSON(os.Stdout, op.Data())
}

// finish prints and saves the store as requested
func finish(env *environment.Environment) error {
	if showStore && !jsonOutput {
		keyColor.Println("\nCached objects:")
		output.PrintObjectsTable(os.Stdout, env.Store.Objects(""))
		keyColor.Println("\nOperations:")
		output.PrintOperationsTable(os.Stdout, env.Operations.Operations())
	}
	if saveStore {
		path, err := snapshotPath()
		if err != nil {
			return err
		}
		if n := env.Store.Collect(); n > 0 {
			logging.Debug().Int("evicted", n).Msg("collected store before saving")
		}
		if err := env.Store.SaveTo(path); err != nil {
			return err
		}
		if !jsonOutput {
			successColor.Printf("✓ Saved %d objects to %s\n", env.Store.Len(), path)
		}
	}
	return nil
}

func printJSON(data interface{}) error {
	return output.PrintJSON(os.Stdout, data)
}

func printError(msg string) {
	if noColor {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	} else {
		errorColor.Fprint(os.Stderr, "✗ Error: ")
		fmt.Fprintln(os.Stderr, msg)
	}
}
