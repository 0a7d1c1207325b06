package commands

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/deployer"
	"github.com/savaki/iothub-ota/internal/models"
	"github.com/urfave/cli/v2"
)

func deployFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "container",
			Aliases: []string{"c"},
			Usage:   "Blob container holding firmware images; must already exist",
			Value:   deployer.DefaultContainer,
		},
		&cli.IntFlag{
			Name:    "days",
			Aliases: []string{"d"},
			Usage:   "Validity of the container SAS handed to devices, in days",
			Value:   deployer.DefaultDays,
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Replace an existing configuration for VERSION",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Print the configuration that would be created without uploading or publishing",
		},
		&cli.StringFlag{
			Name:  "manifest",
			Usage: "Write a YAML release manifest to this path after publishing",
		},
	}
}

func deployAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	if c.NArg() != 4 {
		return usagef("expected FILE VERSION PRODUCT GROUP, got %d arguments", c.NArg())
	}

	version, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return usagef("VERSION must be an integer: %s", c.Args().Get(1))
	}

	req := deployer.Request{
		Path:      c.Args().Get(0),
		Version:   version,
		Product:   c.Args().Get(2),
		Group:     c.Args().Get(3),
		Container: c.String("container"),
		Days:      c.Int("days"),
		Force:     c.Bool("force"),
		DryRun:    c.Bool("dry-run"),
	}

	// reject bad input before credentials are loaded
	if err := deployer.Validate(req); err != nil {
		return err
	}

	d, err := newDeployer(c)
	if err != nil {
		return err
	}

	result, err := d.Deploy(c.Context, req)
	if err != nil {
		return err
	}

	if req.DryRun {
		out, err := prettyJSON(result.Configuration)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, out)
		return nil
	}

	logger.Info().
		Str("deployment_id", result.DeploymentID).
		Str("configuration_id", result.Configuration.ID).
		Bool("replaced", result.Replaced).
		Msg("firmware published")

	if path := c.String("manifest"); path != "" {
		if err := models.WriteManifest(path, result.Manifest(req.Product, req.Group)); err != nil {
			return err
		}
	}

	return nil
}
