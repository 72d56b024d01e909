// Package natsclient owns the named NATS connections of the process. The
// registry connects lazily, reuses live connections, and drains everything on
// shutdown so in-flight handlers finish before the sockets close.
package natsclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/config"
)

// Connection bundles one live NATS connection with its JetStream handle.
type Connection struct {
	Name string
	NC   *nats.Conn
	JS   jetstream.JetStream
}

// Registry resolves connection names to live connections.
type Registry struct {
	cfg *config.Config
	log *logrus.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry builds a registry over the configured connections. Nothing
// connects until the first Get.
func NewRegistry(cfg *config.Config, log *logrus.Logger) *Registry {
	return &Registry{
		cfg:   cfg,
		log:   log,
		conns: make(map[string]*Connection),
	}
}

// Get returns the named connection, dialing it on first use. An empty name
// resolves to the configured default.
func (r *Registry) Get(name string) (*Connection, error) {
	if name == "" {
		name = r.cfg.DefaultConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[name]; ok {
		return c, nil
	}

	cc, ok := r.cfg.Connection(name)
	if !ok {
		return nil, fmt.Errorf("unknown NATS connection %q", name)
	}

	c, err := r.dial(name, cc)
	if err != nil {
		return nil, err
	}
	r.conns[name] = c
	return c, nil
}

func (r *Registry) dial(name string, cc config.ConnectionConfig) (*Connection, error) {
	log := r.log.WithField("connection", name)
	log.WithField("url", cc.URL).Info("connecting to NATS")

	opts := []nats.Option{
		nats.Name("go-messaging/" + name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS async error")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	authOpts, err := authOptions(cc)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	opts = append(opts, authOpts...)

	nc, err := nats.Connect(cc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS connection %q: %w", name, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context for %q: %w", name, err)
	}

	log.Info("connected to NATS")
	return &Connection{Name: name, NC: nc, JS: js}, nil
}

// authOptions maps the configured credential fields onto connect options.
// Credential kinds are applied in a fixed precedence: creds file, nkey seed,
// token, then username/password.
func authOptions(cc config.ConnectionConfig) ([]nats.Option, error) {
	switch {
	case cc.CredsFile != "":
		return []nats.Option{nats.UserCredentials(cc.CredsFile)}, nil
	case cc.NKeySeedFile != "":
		opt, err := nats.NkeyOptionFromSeed(cc.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("load nkey seed: %w", err)
		}
		return []nats.Option{opt}, nil
	case cc.Token != "":
		return []nats.Option{nats.Token(cc.Token)}, nil
	case cc.Username != "":
		return []nats.Option{nats.UserInfo(cc.Username, cc.Password)}, nil
	default:
		return nil, nil
	}
}

// Close drains every live connection so subscriptions hand back in-flight
// messages before the sockets drop. Drain failures fall back to a hard close.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.conns {
		if err := c.NC.Drain(); err != nil {
			r.log.WithError(err).WithField("connection", name).Warn("drain failed, closing hard")
			c.NC.Close()
		}
		delete(r.conns, name)
	}
}
