package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/deployer"
	"github.com/savaki/iothub-ota/internal/di"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
	"github.com/urfave/cli/v2"
)

const containerOptionsKey = "di-options"

// NewApp returns the ota command line. logger is replaced once --log-level is known.
// opts are appended to the dependency injection options of every command.
func NewApp(logger *zerolog.Logger, opts ...di.Option) *cli.App {
	app := &cli.App{
		Name:      "ota",
		Usage:     "Publish firmware over-the-air through Azure Blob Storage and Azure IoT Hub",
		UsageText: "ota [global options] FILE VERSION PRODUCT GROUP [-c CONTAINER] [-d DAYS] [--force] [--dry-run] [--manifest PATH]",
		Description: `Uploads FILE to a blob container, then creates the IoT Hub automatic device
configuration ota_v<VERSION> targeting devices tagged with productType=PRODUCT
and deviceGroup=GROUP. Devices receive the firmware URL, a read+list container
SAS, the size and the SHA-256 digest as the desired property extFwInfo.

Credentials come from AZURE_STORAGE_CONNECTIONSTRING and
AZURE_IOTHUB_CONNECTIONSTRING, or from SSM Parameter Store with --ssm-path.

Examples:
  ota firmware.bin 3 thermostat fleetA
  ota firmware.bin 4 thermostat fleetA -c firmware -d 30 --manifest release.yaml
  ota status 4
  ota list --top 50`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				EnvVars: []string{"OTA_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "ssm-path",
				Usage:   "Read connection strings from SSM Parameter Store under this path",
				EnvVars: []string{"OTA_SSM_PATH"},
			},
			&cli.StringFlag{
				Name:    "ledger-table",
				Usage:   "Record releases in this DynamoDB table",
				EnvVars: []string{"OTA_LEDGER_TABLE"},
			},
		}, deployFlags()...),
		Before: func(c *cli.Context) error {
			l, err := di.ProvideLogger(c.String("log-level"))
			if err != nil {
				return err
			}
			*logger = l
			c.Context = l.WithContext(c.Context)
			return nil
		},
		Metadata: map[string]any{
			containerOptionsKey: opts,
		},
		Action:       deployAction,
		OnUsageError: usageError,
		Commands: []*cli.Command{
			StatusCommand(),
			ListCommand(),
			HistoryCommand(),
		},
		HideHelpCommand: true,
	}
	return app
}

// Args returns args with root level flags that follow positional arguments
// moved in front of them, so "ota FILE 3 P G -c ota" parses like "ota -c ota FILE 3 P G".
func Args(app *cli.App, args []string) []string {
	if len(args) < 2 {
		return args
	}

	boolFlags := map[string]bool{"h": true, "help": true}
	for _, f := range app.Flags {
		if _, ok := f.(*cli.BoolFlag); ok {
			for _, name := range f.Names() {
				boolFlags[name] = true
			}
		}
	}

	var flags, positional, rest []string
	input := args[1:]
	for i := 0; i < len(input); i++ {
		arg := input[i]
		switch {
		case arg == "--":
			rest = input[i:]
			i = len(input)
		case len(positional) == 0 && app.Command(arg) != nil:
			// subcommands parse their own flags
			return args
		case isNegativeNumber(arg):
			// "ota FILE -1 P G" must report the version, not an unknown flag
			positional = append(positional, arg)
		case strings.HasPrefix(arg, "-") && arg != "-":
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if !strings.Contains(name, "=") && !boolFlags[name] && i+1 < len(input) {
				flags = append(flags, input[i+1])
				i++
			}
		default:
			positional = append(positional, arg)
		}
	}

	out := make([]string, 0, len(args))
	out = append(out, args[0])
	out = append(out, flags...)
	if len(rest) > 0 {
		out = append(out, "--")
		out = append(out, positional...)
		return append(out, rest[1:]...)
	}
	return append(out, positional...)
}

func isNegativeNumber(arg string) bool {
	if !strings.HasPrefix(arg, "-") {
		return false
	}
	_, err := strconv.Atoi(arg)
	return err == nil
}

func usageError(_ *cli.Context, err error, _ bool) error {
	return fmt.Errorf("%w: %w", otaerrors.ErrInvalidArguments, err)
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", otaerrors.ErrInvalidArguments, fmt.Sprintf(format, args...))
}

func newContainer(c *cli.Context) (di.Container, error) {
	opts := []di.Option{
		di.WithSSMPath(c.String("ssm-path")),
		di.WithLedgerTable(c.String("ledger-table")),
	}
	if extra, ok := c.App.Metadata[containerOptionsKey].([]di.Option); ok {
		opts = append(opts, extra...)
	}
	return di.New(c.Context, opts...)
}

func newDeployer(c *cli.Context) (*deployer.Deployer, error) {
	container, err := newContainer(c)
	if err != nil {
		return nil, err
	}
	return di.Get[*deployer.Deployer](container)
}

func prettyJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode output: %w", err)
	}
	return string(data), nil
}
