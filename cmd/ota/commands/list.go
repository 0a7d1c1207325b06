package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/savaki/iothub-ota/internal/deployer"
	"github.com/urfave/cli/v2"
)

// ListCommand lists the OTA configurations on the hub
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List OTA configurations, highest version first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "top",
				Usage: "Maximum number of hub configurations to read",
				Value: deployer.DefaultListTop,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print configurations as JSON",
			},
		},
		OnUsageError: usageError,
		Action:       listAction,
	}
}

func listAction(c *cli.Context) error {
	d, err := newDeployer(c)
	if err != nil {
		return err
	}

	configs, err := d.List(c.Context, c.Int("top"))
	if err != nil {
		return err
	}

	if c.Bool("json") {
		out, err := prettyJSON(configs)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
		return nil
	}

	if len(configs) == 0 {
		fmt.Fprintln(c.App.Writer, "No OTA configurations found")
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tTARGET\tCREATED")
	for _, cfg := range configs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", cfg.ID, cfg.Priority, cfg.TargetCondition, cfg.CreatedTimeUTC)
	}
	return w.Flush()
}
