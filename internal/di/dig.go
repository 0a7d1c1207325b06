// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"

	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
//
// Example:
//
//	d := MustGet[*deployer.Deployer](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// Get returns an instance constructed via dependency injection. Errors are
// unwrapped to the constructor's own error so callers can classify them.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	if err != nil {
		return want, dig.RootCause(err)
	}
	return want, nil
}

// New creates a new dependency injection container. ctx, which should carry the
// logger, is registered as the context.Context dependency.
// Constructors run lazily, on the first Invoke that needs them.
func New(ctx context.Context, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() SSMPath { return o.ssmPath }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() LedgerTable { return o.ledgerTable }); err != nil {
		return nil, err
	}

	if !o.withoutCore {
		for _, provider := range core {
			if err := container.Provide(provider); err != nil {
				return nil, err
			}
		}
	}

	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideCredentialStore,
	ProvideCredentials,
	ProvideBlobStore,
	ProvideHubClient,
	ProvideDynamoDB,
	ProvideReleaseDAO,
	ProvideLedger,
	ProvideLockDAO,
	ProvideDeployer,
}
