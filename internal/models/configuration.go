package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ConfigurationIDPrefix = "ota_v"
	SchemaVersion         = "1.0"

	// Device twin paths read and written by the device firmware.
	DesiredFirmwareKey = "properties.desired.extFwInfo"
	ReportedStatusKey  = "properties.reported.extFwInfo.Status"
)

// Status labels used as metric names, with the value devices report for each.
const (
	StatusDownloading = "Downloading"
	StatusInterrupted = "Interrupted"
	StatusApplying    = "Applying"
	StatusApplied     = "Applied"
	StatusError       = "Error"
)

// StatusLabels lists the tracked statuses in the order devices move through them.
var StatusLabels = []string{
	StatusDownloading,
	StatusInterrupted,
	StatusApplying,
	StatusApplied,
	StatusError,
}

// FirmwareInfo is the desired property payload devices use to download and verify an image
type FirmwareInfo struct {
	Version int    `json:"version"` // Firmware version, also the configuration priority
	Size    int64  `json:"size"`    // Image size in bytes
	URL     string `json:"url"`     // Public blob URL without SAS
	SAS     string `json:"sas"`     // Container SAS query string, read+list
	SHA256  string `json:"sha256"`  // Uppercase hex digest
}

// ConfigurationContent holds the desired properties applied to targeted devices
type ConfigurationContent struct {
	DeviceContent  map[string]any `json:"deviceContent,omitempty"`
	ModulesContent map[string]any `json:"modulesContent,omitempty"`
}

// ConfigurationMetrics holds named device queries and, when read back, their counts
type ConfigurationMetrics struct {
	Queries map[string]string `json:"queries,omitempty"`
	Results map[string]int64  `json:"results,omitempty"`
}

// Configuration is an IoT Hub automatic device configuration
type Configuration struct {
	ID                 string                `json:"id"`
	SchemaVersion      string                `json:"schemaVersion,omitempty"`
	Labels             map[string]string     `json:"labels,omitempty"`
	Content            ConfigurationContent  `json:"content"`
	TargetCondition    string                `json:"targetCondition"`
	Priority           int                   `json:"priority"`
	Metrics            ConfigurationMetrics  `json:"metrics"`
	SystemMetrics      *ConfigurationMetrics `json:"systemMetrics,omitempty"`
	ETag               string                `json:"etag,omitempty"`
	CreatedTimeUTC     string                `json:"createdTimeUtc,omitempty"`
	LastUpdatedTimeUTC string                `json:"lastUpdatedTimeUtc,omitempty"`
}

// ConfigurationID returns the id of the configuration publishing version.
func ConfigurationID(version int) string {
	return ConfigurationIDPrefix + strconv.Itoa(version)
}

// ParseConfigurationID extracts the version from an OTA configuration id.
func ParseConfigurationID(id string) (int, error) {
	s, ok := strings.CutPrefix(id, ConfigurationIDPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid configuration id: %s, expected %s{version}", id, ConfigurationIDPrefix)
	}
	version, err := strconv.Atoi(s)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("invalid configuration id: %s, expected %s{version}", id, ConfigurationIDPrefix)
	}
	return version, nil
}

// IsOTAConfigurationID reports whether id was produced by ConfigurationID.
func IsOTAConfigurationID(id string) bool {
	_, err := ParseConfigurationID(id)
	return err == nil
}

// TargetCondition selects devices tagged with the given product type and group.
func TargetCondition(product, group string) string {
	return fmt.Sprintf("tags.productType='%s' AND tags.deviceGroup='%s'", product, group)
}

// StatusQuery counts devices that received configID and report status.
func StatusQuery(configID, status string) string {
	return fmt.Sprintf(
		"SELECT deviceId FROM devices WHERE configurations.[[%s]].status='Applied' AND %s='%s'",
		configID, ReportedStatusKey, strings.ToLower(status),
	)
}

// StatusQueries returns one query per entry of StatusLabels.
func StatusQueries(configID string) map[string]string {
	queries := make(map[string]string, len(StatusLabels))
	for _, status := range StatusLabels {
		queries[status] = StatusQuery(configID, status)
	}
	return queries
}

// OTAInput contains the fields needed to build an OTA configuration
type OTAInput struct {
	Product  string
	Group    string
	Firmware FirmwareInfo
	Labels   map[string]string
}

// NewOTAConfiguration builds the configuration that rolls out input.Firmware.
func NewOTAConfiguration(input OTAInput) Configuration {
	id := ConfigurationID(input.Firmware.Version)
	return Configuration{
		ID:            id,
		SchemaVersion: SchemaVersion,
		Labels:        input.Labels,
		Content: ConfigurationContent{
			DeviceContent: map[string]any{
				DesiredFirmwareKey: input.Firmware,
			},
		},
		TargetCondition: TargetCondition(input.Product, input.Group),
		Priority:        input.Firmware.Version,
		Metrics: ConfigurationMetrics{
			Queries: StatusQueries(id),
		},
	}
}
