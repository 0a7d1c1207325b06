package commands

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/savaki/iothub-ota/internal/models"
	"github.com/urfave/cli/v2"
)

// StatusCommand shows one OTA configuration and the device counts IoT Hub computed for it
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show an OTA configuration and its device counts",
		ArgsUsage: "VERSION",
		Description: `Reads configuration ota_v<VERSION> from the hub and prints its target
condition, the system counts (targeted, applied) and the per-status counts
reported by devices (Downloading, Interrupted, Applying, Applied, Error).

Counts are computed by IoT Hub periodically and may lag device reports.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the configuration as JSON",
			},
		},
		OnUsageError: usageError,
		Action:       statusAction,
	}
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return usagef("expected VERSION")
	}
	version, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return usagef("VERSION must be an integer: %s", c.Args().First())
	}

	d, err := newDeployer(c)
	if err != nil {
		return err
	}

	cfg, err := d.Status(c.Context, version)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		out, err := prettyJSON(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", cfg.ID)
	fmt.Fprintf(w, "priority:\t%d\n", cfg.Priority)
	fmt.Fprintf(w, "target:\t%s\n", cfg.TargetCondition)
	fmt.Fprintf(w, "created:\t%s\n", cfg.CreatedTimeUTC)
	if id := cfg.Labels["deploymentId"]; id != "" {
		fmt.Fprintf(w, "deployment:\t%s\n", id)
	}
	if cfg.SystemMetrics != nil {
		for _, name := range sortedKeys(cfg.SystemMetrics.Results) {
			fmt.Fprintf(w, "%s:\t%d\n", name, cfg.SystemMetrics.Results[name])
		}
	}
	for _, status := range models.StatusLabels {
		fmt.Fprintf(w, "%s:\t%d\n", status, cfg.Metrics.Results[status])
	}
	return w.Flush()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
