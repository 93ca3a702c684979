// Package client assembles the realtime client components from the loaded
// configuration: the judge API, the submission monitor, the flowchart
// tracker, the site configuration sync and the collaborative editing
// session.
package client

import (
	"context"

	"github.com/ojhub/realtime/config"
	"github.com/ojhub/realtime/src/api"
	"github.com/ojhub/realtime/src/auth"
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/collab"
	"github.com/ojhub/realtime/src/configsync"
	"github.com/ojhub/realtime/src/flowchart"
	"github.com/ojhub/realtime/src/submission"
	"github.com/rs/zerolog"
)

// Deps are the host-provided collaborators. Dialer and Notifier may be nil.
type Deps struct {
	Auth     auth.Source
	Dialer   channel.Dialer
	Notifier collab.Notifier
}

// Client owns one instance of every realtime component.
type Client struct {
	API        *api.HTTPClient
	OJ         *api.OJ
	Monitor    *submission.Monitor
	Flowchart  *flowchart.Tracker
	Config     *configsync.Store
	ConfigSync *configsync.Syncer
	Collab     *collab.Session

	configCh *configsync.Channel
	logger   zerolog.Logger
}

// New builds the components from cfg. Nothing dials until Start, a
// monitored submission or a collaborative session needs a connection.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Client {
	logger = logger.With().Str("component", "client").Logger()

	httpClient := api.NewHTTPClient(cfg.API, logger)
	oj := api.NewOJ(httpClient)

	dial := func(path string) *channel.Channel {
		return channel.New(cfg.Push.ChannelConfig(path), deps.Dialer, logger)
	}

	subCh := submission.NewChannel(dial(submission.Path), logger)
	fcCh := flowchart.NewChannel(dial(flowchart.Path), logger)
	configCh := configsync.NewChannel(dial(configsync.Path), logger)
	store := configsync.NewStore(logger)

	factory := collab.RoomsFactory(cfg.Signaling.BaseURL, cfg.Signaling.Config, deps.Dialer, logger)

	return &Client{
		API:        httpClient,
		OJ:         oj,
		Monitor:    submission.NewMonitor(subCh, oj, cfg.Monitor, logger),
		Flowchart:  flowchart.NewTracker(fcCh, logger),
		Config:     store,
		ConfigSync: configsync.NewSyncer(configCh, store, deps.Auth, logger),
		Collab:     collab.NewSession(factory, deps.Auth, deps.Notifier, cfg.Collab, logger),
		configCh:   configCh,
		logger:     logger,
	}
}

// Start loads the site configuration and keeps it in sync while the user
// is signed in. A failed initial load is logged and pushes still apply.
func (c *Client) Start(ctx context.Context) {
	if err := c.Config.Load(ctx, c.OJ); err != nil {
		c.logger.Warn().Err(err).Msg("initial site config load failed")
	}
	c.ConfigSync.Start()
}

// UpdateConfig broadcasts a configuration change to every connected client.
func (c *Client) UpdateConfig(key string, value any) bool {
	return c.configCh.UpdateConfig(key, value)
}

// Close stops every component and closes their channels.
func (c *Client) Close() {
	c.Collab.Stop()
	c.ConfigSync.Stop()
	c.configCh.Close()
	c.Flowchart.Close()
	c.Monitor.Close()
}
