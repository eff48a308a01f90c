package nats

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry holds named clients with an explicit lifecycle: a client is
// opened on first use of its name and lives until CloseAll. It replaces the
// ambient global connection maps some frameworks keep; the composition root
// owns the registry and hands it down.
type Registry struct {
	lock     sync.Mutex
	defaults *Options
	named    map[string]*Options
	clients  map[string]*Client
	logger   *logrus.Logger
}

// NewRegistry returns a registry using the given options for connections
// that have no named configuration.
func NewRegistry(defaults *Options) *Registry {
	if defaults == nil {
		defaults = NewOptions()
	}
	return &Registry{
		defaults: defaults.copy(),
		named:    make(map[string]*Options),
		clients:  make(map[string]*Client),
		logger:   logrus.StandardLogger(),
	}
}

// SetLogger replaces the registry's logger.
func (registry *Registry) SetLogger(logger *logrus.Logger) *Registry {
	if logger != nil {
		registry.logger = logger
	}
	return registry
}

// Configure stores options for a connection name before its first use.
func (registry *Registry) Configure(name string, opts *Options) error {
	if opts == nil {
		return NewError(ConfigError, "options for connection '"+name+"' are nil")
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()
	if _, open := registry.clients[name]; open {
		return NewError(ConfigError, "connection '"+name+"' is already open")
	}
	registry.named[name] = opts.copy()
	return nil
}

// Get returns the named client, connecting it on first use.
func (registry *Registry) Get(name string) (*Client, error) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	if client, open := registry.clients[name]; open {
		return client, nil
	}

	opts, configured := registry.named[name]
	if !configured {
		opts = registry.defaults
	}
	if opts.Name == "" {
		opts = opts.copy().SetName(name)
	}

	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	client.SetLogger(registry.logger)
	if err := client.Connect(); err != nil {
		return nil, err
	}

	registry.logger.WithFields(logrus.Fields{
		"connection": name,
		"addr":       opts.Addr(),
	}).Debug("opened registry connection")

	registry.clients[name] = client
	return client, nil
}

// Names returns the names of the currently open clients, sorted.
func (registry *Registry) Names() []string {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	names := make([]string, 0, len(registry.clients))
	for name := range registry.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every open client. The registry remains usable; a later
// Get reopens the connection.
func (registry *Registry) CloseAll() {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	for name, client := range registry.clients {
		if err := client.Close(); err != nil {
			registry.logger.WithField("connection", name).WithError(err).Warn("close failed")
		}
		delete(registry.clients, name)
	}
}
