// Package connstr parses Azure style connection strings.
//
// A connection string is a sequence of key=value segments separated by ';'.
// Keys are matched case-insensitively and values may themselves contain '='
// (base64 padding in account keys), so a segment is split on its first '='.
package connstr

import (
	"fmt"
	"strings"

	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

// Values holds the parsed segments of a connection string keyed by lowercase key.
type Values map[string]string

// Get returns the value for key, ignoring case.
func (v Values) Get(key string) string {
	return v[strings.ToLower(key)]
}

// Require returns the value for key or an error naming the missing field.
func (v Values) Require(key string) (string, error) {
	value := v.Get(key)
	if value == "" {
		return "", fmt.Errorf("%w: missing %s", otaerrors.ErrConnectionString, key)
	}
	return value, nil
}

// Parse splits a connection string into its key/value segments.
func Parse(s string) (Values, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", otaerrors.ErrConnectionString)
	}

	values := Values{}
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		key, value, ok := strings.Cut(segment, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: segment %q is not key=value", otaerrors.ErrConnectionString, redactSegment(segment))
		}

		values[strings.ToLower(key)] = strings.TrimSpace(value)
	}

	return values, nil
}

// redactSegment keeps only the key part so secrets never land in error messages.
func redactSegment(segment string) string {
	if len(segment) > 8 {
		return segment[:8] + "..."
	}
	return segment
}

const (
	defaultProtocol       = "https"
	defaultEndpointSuffix = "core.windows.net"
)

// Storage holds the fields of a storage account connection string.
type Storage struct {
	AccountName  string
	AccountKey   string
	BlobEndpoint string // always without trailing slash
}

// String implements fmt.Stringer without exposing the account key.
func (s Storage) String() string {
	return fmt.Sprintf("AccountName=%s;BlobEndpoint=%s;AccountKey=REDACTED", s.AccountName, s.BlobEndpoint)
}

// ParseStorage parses a storage account connection string.
//
// Example:
//
//	DefaultEndpointsProtocol=https;AccountName=acme;AccountKey=a2V5;EndpointSuffix=core.windows.net
func ParseStorage(s string) (Storage, error) {
	values, err := Parse(s)
	if err != nil {
		return Storage{}, err
	}

	accountName, err := values.Require("AccountName")
	if err != nil {
		return Storage{}, err
	}
	accountKey, err := values.Require("AccountKey")
	if err != nil {
		return Storage{}, err
	}

	endpoint := values.Get("BlobEndpoint")
	if endpoint == "" {
		protocol := values.Get("DefaultEndpointsProtocol")
		if protocol == "" {
			protocol = defaultProtocol
		}
		suffix := values.Get("EndpointSuffix")
		if suffix == "" {
			suffix = defaultEndpointSuffix
		}
		endpoint = fmt.Sprintf("%s://%s.blob.%s", protocol, accountName, suffix)
	}

	return Storage{
		AccountName:  accountName,
		AccountKey:   accountKey,
		BlobEndpoint: strings.TrimRight(endpoint, "/"),
	}, nil
}

// Hub holds the fields of an IoT Hub shared access policy connection string.
type Hub struct {
	HostName            string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// String implements fmt.Stringer without exposing the shared access key.
func (h Hub) String() string {
	return fmt.Sprintf("HostName=%s;SharedAccessKeyName=%s;SharedAccessKey=REDACTED", h.HostName, h.SharedAccessKeyName)
}

// ParseHub parses an IoT Hub connection string.
//
// Example:
//
//	HostName=acme.azure-devices.net;SharedAccessKeyName=iothubowner;SharedAccessKey=a2V5
func ParseHub(s string) (Hub, error) {
	values, err := Parse(s)
	if err != nil {
		return Hub{}, err
	}

	hostName, err := values.Require("HostName")
	if err != nil {
		return Hub{}, err
	}
	keyName, err := values.Require("SharedAccessKeyName")
	if err != nil {
		return Hub{}, err
	}
	key, err := values.Require("SharedAccessKey")
	if err != nil {
		return Hub{}, err
	}

	return Hub{
		HostName:            hostName,
		SharedAccessKeyName: keyName,
		SharedAccessKey:     key,
	}, nil
}
