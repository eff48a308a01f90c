package nats

import (
	"crypto/tls"
	"strconv"
	"time"
)

// Default connection parameters.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 4222
	DefaultTimeout      = 2 * time.Second
	DefaultPingInterval = 2 * time.Minute
	DefaultMaxPingsOut  = 2
)

// Options holds the connection parameters for a single Client. Build one
// with NewOptions, adjust it with the Set methods, and hand it to NewClient;
// the client keeps its own copy, so an Options value is not shared state.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Token    string

	// Timeout bounds dial and handshake I/O.
	Timeout time.Duration

	TLS       bool
	TLSConfig *tls.Config

	// WebSocket selects the websocket listener instead of the plain TCP
	// protocol port.
	WebSocket bool

	Name     string
	Verbose  bool
	Pedantic bool

	// NoEcho asks the server not to deliver this connection's own publishes
	// back to its subscriptions.
	NoEcho bool

	// PingInterval is the idle time after which a health check is due.
	// MaxPingsOut is the number of unanswered pings tolerated before the
	// connection is considered dead.
	PingInterval time.Duration
	MaxPingsOut  int
}

// NewOptions returns Options populated with protocol defaults.
func NewOptions() *Options {
	return &Options{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Timeout:      DefaultTimeout,
		PingInterval: DefaultPingInterval,
		MaxPingsOut:  DefaultMaxPingsOut,
	}
}

// SetHost sets the server host on the receiver.
func (opts *Options) SetHost(host string) *Options {
	opts.Host = host
	return opts
}

// SetPort sets the server port on the receiver.
func (opts *Options) SetPort(port int) *Options {
	opts.Port = port
	return opts
}

// SetUserInfo sets username/password authentication on the receiver.
func (opts *Options) SetUserInfo(username string, password string) *Options {
	opts.Username = username
	opts.Password = password
	return opts
}

// SetToken sets token authentication on the receiver.
func (opts *Options) SetToken(token string) *Options {
	opts.Token = token
	return opts
}

// SetTimeout sets the dial/handshake timeout on the receiver.
func (opts *Options) SetTimeout(timeout time.Duration) *Options {
	opts.Timeout = timeout
	return opts
}

// SetTLS enables TLS with an optional tls.Config on the receiver.
func (opts *Options) SetTLS(config *tls.Config) *Options {
	opts.TLS = true
	opts.TLSConfig = config
	return opts
}

// SetWebSocket selects the websocket transport on the receiver.
func (opts *Options) SetWebSocket(enabled bool) *Options {
	opts.WebSocket = enabled
	return opts
}

// SetName sets the client name reported to the server on the receiver.
func (opts *Options) SetName(name string) *Options {
	opts.Name = name
	return opts
}

// SetVerbose sets the verbose protocol flag on the receiver.
func (opts *Options) SetVerbose(verbose bool) *Options {
	opts.Verbose = verbose
	return opts
}

// SetPedantic sets the pedantic protocol flag on the receiver.
func (opts *Options) SetPedantic(pedantic bool) *Options {
	opts.Pedantic = pedantic
	return opts
}

// SetNoEcho disables delivery of this connection's own publishes back to it.
func (opts *Options) SetNoEcho(noEcho bool) *Options {
	opts.NoEcho = noEcho
	return opts
}

// SetPingInterval sets the health-check idle interval on the receiver.
func (opts *Options) SetPingInterval(interval time.Duration) *Options {
	opts.PingInterval = interval
	return opts
}

// SetMaxPingsOut sets the unanswered-ping tolerance on the receiver.
func (opts *Options) SetMaxPingsOut(maxPingsOut int) *Options {
	opts.MaxPingsOut = maxPingsOut
	return opts
}

// Validate checks the invariants: a positive port and at most one
// authentication mode (user/password or token, never both).
func (opts *Options) Validate() error {
	if opts.Port <= 0 {
		return NewError(ConfigError, "port must be positive, got "+strconv.Itoa(opts.Port))
	}
	if opts.Token != "" && (opts.Username != "" || opts.Password != "") {
		return NewError(ConfigError, "user/password and token authentication are mutually exclusive")
	}
	if opts.Password != "" && opts.Username == "" {
		return NewError(ConfigError, "password authentication requires a username")
	}
	return nil
}

// Addr returns the host:port dial address.
func (opts *Options) Addr() string {
	return opts.Host + ":" + strconv.Itoa(opts.Port)
}

func (opts *Options) copy() *Options {
	duplicate := *opts
	return &duplicate
}
