// Package metrics exposes prometheus counters for the bot's externally
// visible activity.
package metrics

import (
	"net/url"
	"strconv"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
)

// Status is the status of a measurable metric (posts, commands).
type Status string

// Common status values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	pollCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_feed_polls_total",
		Help: "The number of feed polls, by origin host and HTTP status",
	}, []string{"host", "http_status"})
	postCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_posts_total",
		Help: "The number of publish attempts, by identity and status",
	}, []string{"identity", "status"})
	cmdCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_dm_cmd_total",
		Help: "The number of direct-message commands processed",
	}, []string{"cmd", "status"})
)

// IncrementPoll increments the feed poll counter. The feed URL is reduced
// to its host to keep cardinality useful.
func IncrementPoll(feedURL string, err error) {
	host := feedURL
	if u, urlErr := url.Parse(feedURL); urlErr == nil && u.Host != "" {
		host = u.Host
	}
	status := "200"
	if err != nil {
		status = "0" // e.g. network timeout
		var herr *gofeed.HTTPError
		if e, ok := err.(*gofeed.HTTPError); ok {
			herr = e
		}
		if herr != nil {
			status = strconv.Itoa(herr.StatusCode)
		}
	}
	pollCounter.With(prometheus.Labels{"host": host, "http_status": status}).Inc()
}

// IncrementPost increments the publish counter.
func IncrementPost(identity string, st Status) {
	postCounter.With(prometheus.Labels{"identity": identity, "status": string(st)}).Inc()
}

// IncrementCommand increments the DM command counter.
func IncrementCommand(cmdName string, st Status) {
	cmdCounter.With(prometheus.Labels{"cmd": cmdName, "status": string(st)}).Inc()
}

func init() {
	prometheus.MustRegister(pollCounter)
	prometheus.MustRegister(postCounter)
	prometheus.MustRegister(cmdCounter)
}
