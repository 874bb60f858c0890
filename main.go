package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andrewmoise/rssbot/clients"
	"github.com/andrewmoise/rssbot/commands"
	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/database"
	"github.com/andrewmoise/rssbot/feeds"
	"github.com/andrewmoise/rssbot/lemmy"
	"github.com/andrewmoise/rssbot/polling"
	"github.com/matrix-org/dugong"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// connectionRetryDelay is how long a transient connection failure pauses
// the daemon before it resumes.
const connectionRetryDelay = 60 * time.Second

func main() {
	communityList := flag.String("communities", "", "comma-separated list of community keys to restrict processing to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.LogDir != "" {
		log.AddHook(dugong.NewFSHook(
			filepath.Join(cfg.LogDir, "info.log"),
			filepath.Join(cfg.LogDir, "warn.log"),
			filepath.Join(cfg.LogDir, "error.log"),
		))
	}

	bindAddress := os.Getenv("BIND_ADDRESS")
	log.Infof(
		"RSSBot (LEMMY_SERVER=%s DATABASE_PATH=%s BIND_ADDRESS=%s LOG_DIR=%s)",
		cfg.Server, cfg.DatabasePath, bindAddress, cfg.LogDir,
	)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Panic("Failed to open database")
	}

	clis := clients.New(cfg, ".")
	if err := clis.Start(); err != nil {
		log.WithError(err).Panic("Failed to start up clients")
	}

	if bindAddress != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.WithError(http.ListenAndServe(bindAddress, nil)).Error("Metrics listener exited")
		}()
	}

	var filter []string
	if *communityList != "" {
		filter = strings.Split(*communityList, ",")
	}

	processor := &commands.Processor{DB: db, DefaultServer: cfg.Server}
	loop := polling.New(db, clis, feeds.NewFetcher(), processor, filter)

	// Transient connection trouble pauses the daemon; anything else is a
	// real fault and takes it down.
	for {
		err := loop.Run()
		if isConnectionError(err) {
			log.WithError(err).Error("Connection error occurred")
			log.Errorf("Retrying in %v...", connectionRetryDelay)
			time.Sleep(connectionRetryDelay)
			continue
		}
		log.WithError(err).Fatal("Polling loop failed")
	}
}

// isConnectionError reports whether err is network-level trouble worth
// waiting out, as opposed to a programming or storage fault.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var httpErr lemmy.HTTPError
	return errors.As(err, &httpErr)
}
