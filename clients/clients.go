// Package clients multiplexes the bot's publishing identities: one
// authenticated API client per identity, selected by the bot_identity tag
// stored on each feed row.
package clients

import (
	"fmt"
	"sync"
	"time"

	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/lemmy"
	log "github.com/sirupsen/logrus"
)

// A Clients is a collection of API clients, one per bot identity.
type Clients struct {
	server       string
	usernames    map[config.Identity]string
	tokenDir     string
	requestDelay time.Duration

	mapMutex sync.Mutex
	clients  map[config.Identity]*lemmy.Client
}

// New makes a new collection of Lemmy clients for the configured identities.
func New(cfg *config.Config, tokenDir string) *Clients {
	return &Clients{
		server:       cfg.Server,
		usernames:    cfg.Usernames,
		tokenDir:     tokenDir,
		requestDelay: cfg.RequestDelay,
		clients:      make(map[config.Identity]*lemmy.Client),
	}
}

// Start logs in every configured identity up front, so that any password
// prompting happens at startup rather than mid-loop.
func (c *Clients) Start() error {
	for _, identity := range config.Identities {
		if c.usernames[identity] == "" {
			continue
		}
		if _, err := c.Client(identity); err != nil {
			return err
		}
	}
	return nil
}

// Client gets the client for an identity, creating it on first use.
func (c *Clients) Client(identity config.Identity) (*lemmy.Client, error) {
	c.mapMutex.Lock()
	defer c.mapMutex.Unlock()
	if cli := c.clients[identity]; cli != nil {
		return cli, nil
	}
	username := c.usernames[identity]
	if username == "" {
		return nil, fmt.Errorf("no username configured for identity %q", identity)
	}
	cli, err := lemmy.New(c.server, username, c.tokenDir, c.requestDelay)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"identity": identity,
		"user_id":  username,
	}).Info("Created new client")
	c.clients[identity] = cli
	return cli, nil
}

// Set installs a pre-built client for an identity. Tests use this to
// inject clients with mocked transports.
func (c *Clients) Set(identity config.Identity, cli *lemmy.Client) {
	c.mapMutex.Lock()
	defer c.mapMutex.Unlock()
	c.clients[identity] = cli
}

// Identities returns the identities that have a configured username, in a
// stable order.
func (c *Clients) Identities() []config.Identity {
	var ids []config.Identity
	for _, identity := range config.Identities {
		if c.usernames[identity] != "" {
			ids = append(ids, identity)
		}
	}
	return ids
}
