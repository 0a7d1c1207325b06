package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/savaki/iothub-ota/internal/dao/releasedao"
	"github.com/savaki/iothub-ota/internal/deployer"
	"github.com/savaki/iothub-ota/internal/di"
	"github.com/urfave/cli/v2"
)

// HistoryCommand lists releases recorded in the DynamoDB ledger
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List recorded releases for a product and group, newest first",
		ArgsUsage: "PRODUCT GROUP",
		Description: `Requires --ledger-table (or OTA_LEDGER_TABLE). Every successful deploy made
with a ledger table is recorded with its deployment id, version, blob and digest.
Azure connection strings are not needed.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Show only the release with this deployment id",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print releases as JSON",
			},
		},
		OnUsageError: usageError,
		Action:       historyAction,
	}
}

func historyAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return usagef("expected PRODUCT GROUP")
	}

	container, err := newContainer(c)
	if err != nil {
		return err
	}
	ledger, err := di.Get[deployer.Ledger](container)
	if err != nil {
		return err
	}

	var (
		product = c.Args().Get(0)
		group   = c.Args().Get(1)
		records []releasedao.Record
	)
	if id := c.String("id"); id != "" {
		record, err := deployer.FindRelease(c.Context, ledger, product, group, id)
		if err != nil {
			return err
		}
		records = append(records, record)
	} else {
		records, err = deployer.History(c.Context, ledger, product, group)
		if err != nil {
			return err
		}
	}

	if c.Bool("json") {
		out, err := prettyJSON(records)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
		return nil
	}

	if len(records) == 0 {
		fmt.Fprintf(c.App.Writer, "No releases recorded for %s/%s\n", product, group)
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEPLOYMENT\tVERSION\tBLOB\tSHA256\tCREATED\tFORCED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%s/%s\t%s\t%s\t%t\n",
			r.SK,
			r.Version,
			r.Container, r.Blob,
			r.SHA256,
			time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339),
			r.Forced,
		)
	}
	return w.Flush()
}
