package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/rs/zerolog"
	"github.com/savaki/iothub-ota/internal/connstr"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
	"github.com/savaki/iothub-ota/internal/models"
)

const (
	hubAPIVersion    = "2021-04-12"
	hubModuleName    = "iothub-ota"
	hubModuleVersion = "v1.0.0"
	hubTokenTTL      = time.Hour
)

// HubClient manages automatic device configurations on an IoT Hub
type HubClient interface {
	// CreateConfiguration creates cfg; returns ErrConfigurationExists if the id is taken
	CreateConfiguration(ctx context.Context, cfg models.Configuration) (models.Configuration, error)

	// GetConfiguration returns the configuration with id, including service computed metrics
	GetConfiguration(ctx context.Context, id string) (models.Configuration, error)

	// DeleteConfiguration removes the configuration with id regardless of its etag
	DeleteConfiguration(ctx context.Context, id string) error

	// ListConfigurations returns up to top configurations
	ListConfigurations(ctx context.Context, top int) ([]models.Configuration, error)
}

type hubService struct {
	pipeline runtime.Pipeline
	endpoint string
	logger   zerolog.Logger
}

// NewHubService creates an IoT Hub client authenticated with the shared access policy in creds.
// options may be nil; tests use it to replace the transport.
func NewHubService(creds connstr.Hub, logger zerolog.Logger, options *policy.ClientOptions) (HubClient, error) {
	key, err := base64.StdEncoding.DecodeString(creds.SharedAccessKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid SharedAccessKey: %w", otaerrors.ErrConnectionString, err)
	}

	auth := &sasPolicy{
		host:    creds.HostName,
		keyName: creds.SharedAccessKeyName,
		key:     key,
		ttl:     hubTokenTTL,
		now:     time.Now,
	}

	pipeline := runtime.NewPipeline(hubModuleName, hubModuleVersion, runtime.PipelineOptions{
		AllowedQueryParameters: []string{"api-version", "top"},
		PerRetry:               []policy.Policy{auth},
	}, options)

	return &hubService{
		pipeline: pipeline,
		endpoint: "https://" + creds.HostName,
		logger:   logger.With().Str("service", "iothub").Str("host", creds.HostName).Logger(),
	}, nil
}

func (h *hubService) newRequest(ctx context.Context, method string, query url.Values, paths ...string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, runtime.JoinPaths(h.endpoint, paths...))
	if err != nil {
		return nil, fmt.Errorf("failed to build iothub request: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", hubAPIVersion)
	req.Raw().URL.RawQuery = query.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	return req, nil
}

// CreateConfiguration implements HubClient
func (h *hubService) CreateConfiguration(ctx context.Context, cfg models.Configuration) (models.Configuration, error) {
	logger := h.logger.With().Str("configuration_id", cfg.ID).Logger()

	req, err := h.newRequest(ctx, http.MethodPut, nil, "configurations", url.PathEscape(cfg.ID))
	if err != nil {
		return models.Configuration{}, err
	}
	if err := runtime.MarshalAsJSON(req, cfg); err != nil {
		return models.Configuration{}, fmt.Errorf("failed to encode configuration: %w", err)
	}

	logger.Info().Int("priority", cfg.Priority).Str("target_condition", cfg.TargetCondition).Msg("creating configuration")

	resp, err := h.pipeline.Do(req)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("failed to create configuration %s: %w", cfg.ID, err)
	}

	switch {
	case runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated):
	case runtime.HasStatusCode(resp, http.StatusConflict, http.StatusPreconditionFailed):
		return models.Configuration{}, fmt.Errorf("%w: %s: %w", otaerrors.ErrConfigurationExists, cfg.ID, runtime.NewResponseError(resp))
	default:
		return models.Configuration{}, fmt.Errorf("failed to create configuration %s: %w", cfg.ID, runtime.NewResponseError(resp))
	}

	var created models.Configuration
	if err := runtime.UnmarshalAsJSON(resp, &created); err != nil {
		return models.Configuration{}, fmt.Errorf("failed to decode created configuration: %w", err)
	}

	logger.Info().Str("etag", created.ETag).Msg("configuration created")
	return created, nil
}

// GetConfiguration implements HubClient
func (h *hubService) GetConfiguration(ctx context.Context, id string) (models.Configuration, error) {
	req, err := h.newRequest(ctx, http.MethodGet, nil, "configurations", url.PathEscape(id))
	if err != nil {
		return models.Configuration{}, err
	}

	resp, err := h.pipeline.Do(req)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("failed to get configuration %s: %w", id, err)
	}

	switch {
	case runtime.HasStatusCode(resp, http.StatusOK):
	case runtime.HasStatusCode(resp, http.StatusNotFound):
		runtime.Drain(resp)
		return models.Configuration{}, fmt.Errorf("%w: %s", otaerrors.ErrConfigurationNotFound, id)
	default:
		return models.Configuration{}, fmt.Errorf("failed to get configuration %s: %w", id, runtime.NewResponseError(resp))
	}

	var cfg models.Configuration
	if err := runtime.UnmarshalAsJSON(resp, &cfg); err != nil {
		return models.Configuration{}, fmt.Errorf("failed to decode configuration %s: %w", id, err)
	}
	return cfg, nil
}

// DeleteConfiguration implements HubClient
func (h *hubService) DeleteConfiguration(ctx context.Context, id string) error {
	req, err := h.newRequest(ctx, http.MethodDelete, nil, "configurations", url.PathEscape(id))
	if err != nil {
		return err
	}
	req.Raw().Header.Set("If-Match", "*")

	h.logger.Warn().Str("configuration_id", id).Msg("deleting configuration")

	resp, err := h.pipeline.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete configuration %s: %w", id, err)
	}

	switch {
	case runtime.HasStatusCode(resp, http.StatusOK, http.StatusNoContent):
		runtime.Drain(resp)
		return nil
	case runtime.HasStatusCode(resp, http.StatusNotFound):
		runtime.Drain(resp)
		return fmt.Errorf("%w: %s", otaerrors.ErrConfigurationNotFound, id)
	default:
		return fmt.Errorf("failed to delete configuration %s: %w", id, runtime.NewResponseError(resp))
	}
}

// ListConfigurations implements HubClient
func (h *hubService) ListConfigurations(ctx context.Context, top int) ([]models.Configuration, error) {
	query := url.Values{}
	if top > 0 {
		query.Set("top", strconv.Itoa(top))
	}

	req, err := h.newRequest(ctx, http.MethodGet, query, "configurations")
	if err != nil {
		return nil, err
	}

	resp, err := h.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, fmt.Errorf("failed to list configurations: %w", runtime.NewResponseError(resp))
	}

	var configs []models.Configuration
	if err := runtime.UnmarshalAsJSON(resp, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode configurations: %w", err)
	}
	return configs, nil
}

// sasPolicy signs every attempt with a fresh shared access signature
type sasPolicy struct {
	host    string
	keyName string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
}

func (p *sasPolicy) Do(req *policy.Request) (*http.Response, error) {
	token := SharedAccessSignature(p.host, p.keyName, p.key, p.now().Add(p.ttl))
	req.Raw().Header.Set("Authorization", token)
	return req.Next()
}

// SharedAccessSignature builds an IoT Hub service token for resource, valid until expiry.
func SharedAccessSignature(resource, keyName string, key []byte, expiry time.Time) string {
	sr := url.QueryEscape(strings.ToLower(resource))
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sr + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	values := []string{
		"sr=" + sr,
		"sig=" + url.QueryEscape(sig),
		"se=" + se,
	}
	if keyName != "" {
		values = append(values, "skn="+url.QueryEscape(keyName))
	}
	return "SharedAccessSignature " + strings.Join(values, "&")
}
