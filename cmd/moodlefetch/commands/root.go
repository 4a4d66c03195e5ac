package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"moodlefetch/lib/configutil"
	"moodlefetch/lib/osutil"
	"moodlefetch/lib/restyutil"
	"moodlefetch/lib/scrapers/moodle/core"
	"moodlefetch/lib/scrapers/moodle/view"
	"moodlefetch/lib/telemetry"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "moodlefetch",
	Short: "moodlefetch lists and downloads course files from Concordia's Moodle portal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// message dumps ride on debug logging, so --http-dump implies it
		if *flagVerbose || *flagHttpDump != "" {
			telemetry.InitSlog(true)
		}
	},
}

var (
	flagUsername      *string
	flagPassword      *string
	flagPasswordStdin *bool
	flagConfig        *string
	flagVerbose       *bool
	flagHttpDump      *string
)

func init() {
	flagUsername = rootCmd.PersistentFlags().String("username", "", "Portal username (netname).")
	flagPassword = rootCmd.PersistentFlags().String("password", "", "Portal password. Prefer --password-stdin or the config file.")
	flagPasswordStdin = rootCmd.PersistentFlags().Bool("password-stdin", false, "Read the password from stdin.")
	flagConfig = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the config file.")
	flagVerbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
	flagHttpDump = rootCmd.PersistentFlags().String("http-dump", "", "Directory to dump full HTTP request/response pairs to, for debugging page shape drift.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	Username  string         `json:"username"`
	Password  string         `json:"password"`
	Domain    string         `json:"domain"`
	Endpoints core.Endpoints `json:"endpoints"`
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config](*flagConfig)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		osutil.Fatal("failed to read config", err)
	}

	if *flagUsername != "" {
		cfg.Username = *flagUsername
	}
	if *flagPassword != "" {
		cfg.Password = *flagPassword
	}
	if *flagPasswordStdin {
		password, err := readPasswordStdin()
		if err != nil {
			osutil.Fatal("failed to read password from stdin", err)
		}
		cfg.Password = password
	}

	if cfg.Username == "" {
		osutil.Fatal("no username", fmt.Errorf("pass --username or set the config file's username field"))
	}
	if cfg.Password == "" {
		osutil.Fatal("no password", fmt.Errorf("pass --password, --password-stdin or set the config file's password field"))
	}

	if cfg.Domain == "" {
		cfg.Domain = "concordia.ca"
	}
	defaults := core.DefaultEndpoints()
	if cfg.Endpoints.FederationLogin == "" {
		cfg.Endpoints.FederationLogin = defaults.FederationLogin
	}
	if cfg.Endpoints.Home == "" {
		cfg.Endpoints.Home = defaults.Home
	}
	if cfg.Endpoints.AssertionConsumer == "" {
		cfg.Endpoints.AssertionConsumer = defaults.AssertionConsumer
	}
	// Dashboard stays empty here so a custom Home derives its own dashboard

	return cfg
}

func readPasswordStdin() (string, error) {
	contents, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(contents), "\r\n"), nil
}

// createClient builds a logged-in session from flags and config. Any failure
// here is fatal, subcommands cannot proceed without a session.
func createClient(ctx context.Context) *view.Client {
	cfg := readConfig()

	if *flagHttpDump != "" {
		output, err := restyutil.NewFilesystemOutput(*flagHttpDump)
		if err != nil {
			osutil.Fatal("failed to create http dump directory", err)
		}
		core.SetRestyInstrumentOutput(output)
	}

	coreClient, err := core.NewClient(core.ClientOptions{
		Endpoints: cfg.Endpoints,
		Domain:    cfg.Domain,
	})
	if err != nil {
		osutil.Fatal("failed to initialize core moodle client", err)
	}

	slog.Info("logging in", "username", cfg.Username)
	err = coreClient.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		osutil.Fatal("failed to login to moodle", err)
	}

	return view.NewClient(coreClient)
}
