package di

// SSMPath is the Parameter Store prefix holding the connection strings; empty selects environment variables.
type SSMPath string

// LedgerTable is the DynamoDB release ledger table; empty disables the ledger.
type LedgerTable string

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithSSMPath(path string) Option {
	return func(opts *options) {
		opts.ssmPath = SSMPath(path)
	}
}

func WithLedgerTable(table string) Option {
	return func(opts *options) {
		opts.ledgerTable = LedgerTable(table)
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container. A provider for a type already
// registered by the core set is an error.
//
// Example:
//
//	WithProviders(
//	    func() services.HubClient { return fakeHub },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

// WithoutCore skips the core providers; tests use it to assemble partial containers.
func WithoutCore() Option {
	return func(opts *options) {
		opts.withoutCore = true
	}
}

type options struct {
	ssmPath     SSMPath
	ledgerTable LedgerTable
	providers   []any
	withoutCore bool
}
