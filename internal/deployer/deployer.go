// Package deployer publishes firmware images as IoT Hub automatic device configurations.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/dao/releasedao"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
	"github.com/savaki/iothub-ota/internal/firmware"
	"github.com/savaki/iothub-ota/internal/models"
	"github.com/savaki/iothub-ota/internal/services"
	"github.com/segmentio/ksuid"
)

const (
	DefaultContainer = "ota"
	DefaultDays      = 365
	DefaultListTop   = 20

	labelDigestLength = 16
)

// Ledger records published releases
type Ledger interface {
	Create(ctx context.Context, input releasedao.CreateInput) (releasedao.Record, error)
	FindByProductGroup(ctx context.Context, product, group, deploymentID string) (releasedao.Record, error)
	QueryByProductGroup(ctx context.Context, product, group string) ([]releasedao.Record, error)
}

// Locker serializes deploys of the same configuration across processes
type Locker interface {
	Acquire(ctx context.Context, configurationID, deploymentID string) (bool, error)
	Release(ctx context.Context, configurationID, deploymentID string) error
}

// Request describes one firmware rollout
type Request struct {
	Path      string // Local firmware image
	Version   int    // Firmware version, must be positive
	Product   string // Matched against tags.productType
	Group     string // Matched against tags.deviceGroup
	Container string // Blob container, must already exist
	Days      int    // SAS validity
	Force     bool   // Replace an existing configuration for Version
	DryRun    bool   // Build the configuration without calling any service
}

// Result describes what was, or in a dry run would be, published
type Result struct {
	DeploymentID  string
	Artifact      firmware.Artifact
	Container     string
	Configuration models.Configuration
	Expiry        time.Time
	CreatedAt     time.Time
	Replaced      bool
	Published     bool
}

// Manifest summarizes r for the --manifest file
func (r Result) Manifest(product, group string) models.Manifest {
	return models.Manifest{
		DeploymentID:    r.DeploymentID,
		ConfigurationID: r.Configuration.ID,
		Version:         r.Configuration.Priority,
		Product:         product,
		Group:           group,
		Container:       r.Container,
		Blob:            r.Artifact.Name,
		URL:             firmwareInfo(r.Configuration).URL,
		Size:            r.Artifact.Size,
		SHA256:          r.Artifact.SHA256,
		SASExpiry:       r.Expiry.UTC().Format(time.RFC3339),
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func firmwareInfo(cfg models.Configuration) models.FirmwareInfo {
	info, _ := cfg.Content.DeviceContent[models.DesiredFirmwareKey].(models.FirmwareInfo)
	return info
}

// Option customizes a Deployer
type Option func(*Deployer)

// WithLedger records every successful publish in ledger
func WithLedger(ledger Ledger) Option {
	return func(d *Deployer) {
		d.ledger = ledger
	}
}

// WithLocker holds a lock on the configuration id for the duration of each deploy
func WithLocker(locker Locker) Option {
	return func(d *Deployer) {
		d.locker = locker
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Deployer) {
		d.now = now
	}
}

// WithIDGenerator replaces the KSUID deployment id generator
func WithIDGenerator(fn func() string) Option {
	return func(d *Deployer) {
		d.newID = fn
	}
}

// Deployer uploads firmware and publishes the matching configuration
type Deployer struct {
	blobs  services.BlobStore
	hub    services.HubClient
	ledger Ledger
	locker Locker
	now    func() time.Time
	newID  func() string
}

// New creates a new Deployer instance
func New(blobs services.BlobStore, hub services.HubClient, opts ...Option) *Deployer {
	d := &Deployer{
		blobs: blobs,
		hub:   hub,
		now:   time.Now,
		newID: func() string { return ksuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate checks req without touching the filesystem or the network
func Validate(req Request) error {
	if req.Version <= 0 {
		return fmt.Errorf("%w: got %d", otaerrors.ErrInvalidVersion, req.Version)
	}
	if req.Days <= 0 {
		return fmt.Errorf("%w: days must be greater than 0, got %d", otaerrors.ErrInvalidArguments, req.Days)
	}
	if req.Path == "" {
		return fmt.Errorf("%w: firmware file is required", otaerrors.ErrInvalidArguments)
	}
	if req.Container == "" {
		return fmt.Errorf("%w: container is required", otaerrors.ErrInvalidArguments)
	}
	if err := validateTag("product", req.Product); err != nil {
		return err
	}
	return validateTag("group", req.Group)
}

// tag values are embedded in a single-quoted target condition and in ledger keys
func validateTag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", otaerrors.ErrInvalidArguments, name)
	}
	if strings.ContainsAny(value, `'"`) {
		return fmt.Errorf("%w: %s must not contain quotes: %s", otaerrors.ErrInvalidArguments, name, value)
	}
	if err := releasedao.ValidateKeyPart(name, value); err != nil {
		return fmt.Errorf("%w: %w", otaerrors.ErrInvalidArguments, err)
	}
	return nil
}

// Deploy uploads the firmware at req.Path and creates configuration ota_v{req.Version}.
// The blob is not removed if publishing fails.
func (d *Deployer) Deploy(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	artifact, err := firmware.Inspect(req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", otaerrors.ErrInvalidArguments, err)
	}

	var (
		now          = d.now().UTC()
		deploymentID = d.newID()
		configID     = models.ConfigurationID(req.Version)
		logger       = zerolog.Ctx(ctx).With().
				Str("deployment_id", deploymentID).
				Str("configuration_id", configID).
				Logger()
	)

	result := Result{
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Container:    req.Container,
		Expiry:       now.Add(time.Duration(req.Days) * 24 * time.Hour),
		CreatedAt:    now,
	}

	if !req.DryRun {
		release, err := d.lock(ctx, configID, deploymentID)
		if err != nil {
			return Result{}, err
		}
		defer release()

		exists, err := d.configurationExists(ctx, configID)
		if err != nil {
			return Result{}, err
		}
		if exists && !req.Force {
			return Result{}, fmt.Errorf("%w: %s, use --force to replace it", otaerrors.ErrConfigurationExists, configID)
		}
		result.Replaced = exists

		metadata := map[string]string{
			"sha256":       artifact.SHA256,
			"deploymentid": deploymentID,
		}
		if err := d.blobs.Upload(ctx, req.Container, artifact.Path, metadata); err != nil {
			return Result{}, err
		}
		logger.Info().Str("blob", artifact.Name).Int64("size", artifact.Size).Msg("firmware uploaded")
	}

	sas, err := d.blobs.ContainerSAS(req.Container, result.Expiry)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", otaerrors.ErrPublish, err)
	}

	result.Configuration = models.NewOTAConfiguration(models.OTAInput{
		Product: req.Product,
		Group:   req.Group,
		Firmware: models.FirmwareInfo{
			Version: req.Version,
			Size:    artifact.Size,
			URL:     d.blobs.BlobURL(req.Container, artifact.Name),
			SAS:     sas,
			SHA256:  artifact.SHA256,
		},
		Labels: map[string]string{
			"deploymentId":    deploymentID,
			"productType":     req.Product,
			"deviceGroup":     req.Group,
			"firmwareVersion": strconv.Itoa(req.Version),
			"sha256":          artifact.SHA256[:labelDigestLength],
		},
	})

	if req.DryRun {
		return result, nil
	}

	if result.Replaced {
		if err := d.hub.DeleteConfiguration(ctx, configID); err != nil && !errors.Is(err, otaerrors.ErrConfigurationNotFound) {
			return Result{}, fmt.Errorf("%w: %w", otaerrors.ErrPublish, err)
		}
		logger.Warn().Msg("existing configuration deleted")
	}

	created, err := d.hub.CreateConfiguration(ctx, result.Configuration)
	if err != nil {
		if errors.Is(err, otaerrors.ErrConfigurationExists) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", otaerrors.ErrPublish, err)
	}
	if created.ETag != "" {
		result.Configuration.ETag = created.ETag
		result.Configuration.CreatedTimeUTC = created.CreatedTimeUTC
	}
	result.Published = true
	logger.Info().Int("priority", result.Configuration.Priority).Msg("configuration published")

	d.record(ctx, req, result)
	return result, nil
}

// lock returns a func releasing the lock; release errors are logged only
func (d *Deployer) lock(ctx context.Context, configID, deploymentID string) (func(), error) {
	if d.locker == nil {
		return func() {}, nil
	}

	ok, err := d.locker.Acquire(ctx, configID, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", configID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", otaerrors.ErrPublishLocked, configID)
	}

	return func() {
		if err := d.locker.Release(context.WithoutCancel(ctx), configID, deploymentID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("configuration_id", configID).Msg("failed to release lock")
		}
	}, nil
}

func (d *Deployer) configurationExists(ctx context.Context, id string) (bool, error) {
	_, err := d.hub.GetConfiguration(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, otaerrors.ErrConfigurationNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", otaerrors.ErrPublish, err)
	}
}

// record failures are logged only; the configuration is already live
func (d *Deployer) record(ctx context.Context, req Request, result Result) {
	if d.ledger == nil {
		return
	}

	_, err := d.ledger.Create(ctx, releasedao.CreateInput{
		Product:         req.Product,
		Group:           req.Group,
		DeploymentID:    result.DeploymentID,
		Version:         req.Version,
		ConfigurationID: result.Configuration.ID,
		Container:       req.Container,
		Blob:            result.Artifact.Name,
		URL:             firmwareInfo(result.Configuration).URL,
		Size:            result.Artifact.Size,
		SHA256:          result.Artifact.SHA256,
		Forced:          result.Replaced,
		CreatedAt:       result.CreatedAt,
		ExpiresAt:       result.Expiry,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("deployment_id", result.DeploymentID).Msg("failed to record release")
	}
}

// Status returns configuration ota_v{version} with its service computed metrics
func (d *Deployer) Status(ctx context.Context, version int) (models.Configuration, error) {
	if version <= 0 {
		return models.Configuration{}, fmt.Errorf("%w: got %d", otaerrors.ErrInvalidVersion, version)
	}
	return d.hub.GetConfiguration(ctx, models.ConfigurationID(version))
}

// List returns the OTA configurations among the first top on the hub, highest priority first
func (d *Deployer) List(ctx context.Context, top int) ([]models.Configuration, error) {
	if top <= 0 {
		return nil, fmt.Errorf("%w: top must be greater than 0, got %d", otaerrors.ErrInvalidArguments, top)
	}

	configs, err := d.hub.ListConfigurations(ctx, top)
	if err != nil {
		return nil, err
	}

	var ota []models.Configuration
	for _, cfg := range configs {
		if models.IsOTAConfigurationID(cfg.ID) {
			ota = append(ota, cfg)
		}
	}
	sort.SliceStable(ota, func(i, j int) bool {
		return ota[i].Priority > ota[j].Priority
	})
	return ota, nil
}

// History returns the recorded releases of product/group, newest first.
// It needs only the ledger, so callers need not resolve Azure credentials.
func History(ctx context.Context, ledger Ledger, product, group string) ([]releasedao.Record, error) {
	if err := checkLedger(ledger, product, group); err != nil {
		return nil, err
	}
	return ledger.QueryByProductGroup(ctx, product, group)
}

// FindRelease returns the release deploymentID of product/group
func FindRelease(ctx context.Context, ledger Ledger, product, group, deploymentID string) (releasedao.Record, error) {
	if err := checkLedger(ledger, product, group); err != nil {
		return releasedao.Record{}, err
	}
	if err := releasedao.ValidateKeyPart("deployment id", deploymentID); err != nil {
		return releasedao.Record{}, fmt.Errorf("%w: %w", otaerrors.ErrInvalidArguments, err)
	}
	return ledger.FindByProductGroup(ctx, product, group, deploymentID)
}

func checkLedger(ledger Ledger, product, group string) error {
	if ledger == nil {
		return fmt.Errorf("%w: release ledger is not configured, set --ledger-table", otaerrors.ErrInvalidArguments)
	}
	if err := validateTag("product", product); err != nil {
		return err
	}
	return validateTag("group", group)
}
