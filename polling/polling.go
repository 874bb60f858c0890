// Package polling runs the bot's outer loop: it selects due feeds, drives
// fetch -> stage -> publish for each, and services the direct-message
// command traffic while idle.
package polling

import (
	"net/url"
	"time"

	"github.com/andrewmoise/rssbot/clients"
	"github.com/andrewmoise/rssbot/commands"
	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/database"
	"github.com/andrewmoise/rssbot/feeds"
	"github.com/andrewmoise/rssbot/lemmy"
	"github.com/andrewmoise/rssbot/metrics"
	log "github.com/sirupsen/logrus"
)

// messagePollInterval is the sleep-slice length; commands are serviced
// once per slice.
const messagePollInterval = time.Minute

// postWindow is the maximum age of an entry worth staging.
const postWindow = 3 * 24 * time.Hour

// recentTimestampLimit is how much stored history the cadence estimator
// sees when no fresh entries are available.
const recentTimestampLimit = 20

// A Loop owns the scheduler state for one daemon process.
type Loop struct {
	DB       database.Storer
	Clients  *clients.Clients
	Fetcher  *feeds.Fetcher
	Commands *commands.Processor
	// CommunityFilter, when non-nil, restricts processing to feeds whose
	// community key it contains.
	CommunityFilter map[string]bool

	// pollInterval is messagePollInterval unless a test shortens it.
	pollInterval time.Duration
}

// New assembles a Loop.
func New(db database.Storer, clis *clients.Clients, fetcher *feeds.Fetcher, cmds *commands.Processor, filter []string) *Loop {
	l := &Loop{
		DB:           db,
		Clients:      clis,
		Fetcher:      fetcher,
		Commands:     cmds,
		pollInterval: messagePollInterval,
	}
	if len(filter) > 0 {
		l.CommunityFilter = make(map[string]bool)
		for _, key := range filter {
			l.CommunityFilter[key] = true
		}
	}
	return l
}

// Run iterates forever. It returns only when a store operation fails; the
// caller decides whether that is retryable.
func (l *Loop) Run() error {
	for {
		if err := l.runOnce(); err != nil {
			return err
		}
	}
}

// runOnce is one outer iteration: sleep until the earliest due feed
// (servicing commands once a minute meanwhile), then process every due
// feed in list order.
func (l *Loop) runOnce() error {
	allFeeds, err := l.DB.ListFeeds()
	if err != nil {
		return err
	}

	wake := l.wakeTime(allFeeds)
	log.WithField("wake", wake).Info("Sleeping until next due feed")

	for time.Now().Before(wake) {
		remaining := time.Until(wake)
		if remaining > l.pollInterval {
			remaining = l.pollInterval
		}
		time.Sleep(remaining)
		l.pollMessages()
	}
	l.pollMessages()

	visitedOrigins := make(map[string]bool)
	for _, feed := range allFeeds {
		if err := l.processFeed(feed, visitedOrigins); err != nil {
			return err
		}
	}
	return nil
}

// wakeTime is the earliest next_check_at over all feeds, or a short pause
// when no feed has been scheduled yet.
func (l *Loop) wakeTime(allFeeds []database.Feed) time.Time {
	var wake time.Time
	for _, feed := range allFeeds {
		if feed.NextCheckAt.IsZero() {
			continue
		}
		if wake.IsZero() || feed.NextCheckAt.Before(wake) {
			wake = feed.NextCheckAt
		}
	}
	if wake.IsZero() {
		wake = time.Now().UTC().Add(feeds.MinBackoff)
	}
	return wake
}

// pollMessages services the command traffic for every identity in turn.
func (l *Loop) pollMessages() {
	for _, identity := range l.Clients.Identities() {
		cli, err := l.Clients.Client(identity)
		if err != nil {
			log.WithError(err).WithField("identity", identity).Error("Failed to load client")
			continue
		}
		l.Commands.Poll(cli, identity)
	}
}

// processFeed runs the per-feed procedure: drain backlog before fetching,
// stage fresh entries oldest-first, publish at most one article, then
// reschedule.
func (l *Loop) processFeed(feed database.Feed, visitedOrigins map[string]bool) error {
	logger := log.WithFields(log.Fields{
		"feed_id":   feed.ID,
		"feed_url":  feed.FeedURL,
		"community": feed.CommunityKey,
	})

	if l.CommunityFilter != nil && !l.CommunityFilter[feed.CommunityKey] {
		return nil
	}
	now := time.Now().UTC()
	if !feed.NextCheckAt.IsZero() && feed.NextCheckAt.After(now) {
		return nil
	}

	// At most one fetch per origin host per iteration.
	origin := feed.FeedURL
	if u, err := url.Parse(feed.FeedURL); err == nil && u.Host != "" {
		origin = u.Host
	}
	if visitedOrigins[origin] {
		logger.Debug("Skipping; origin already fetched this iteration")
		return nil
	}
	visitedOrigins[origin] = true

	identity, err := config.ParseIdentity(feed.BotIdentity)
	if err != nil {
		logger.WithError(err).Error("Feed has unusable identity; skipping")
		return nil
	}
	cli, err := l.Clients.Client(identity)
	if err != nil {
		logger.WithError(err).Error("Failed to load client for feed; skipping")
		return nil
	}

	logger.Info("Processing feed")

	unposted, err := l.DB.GetEarliestUnposted(feed.ID)
	if err != nil {
		return err
	}

	var result feeds.Result
	if unposted == nil {
		// No backlog to drain, so ask the network for more.
		var fetchErr error
		result, fetchErr = l.Fetcher.Fetch(feed.FeedURL, feed.LastModified, feed.Etag)
		metrics.IncrementPoll(feed.FeedURL, fetchErr)
		feed.LastModified = result.LastModified
		feed.Etag = result.Etag

		if result.Fetched {
			if err := l.stageEntries(feed.ID, result.Entries); err != nil {
				return err
			}
			if unposted, err = l.DB.GetEarliestUnposted(feed.ID); err != nil {
				return err
			}
		}
	}

	if unposted != nil {
		if err := l.publish(cli, feed, unposted, logger); err != nil {
			return err
		}
	}

	return l.reschedule(feed, result)
}

// stageEntries inserts new, recent, non-blacklisted entries oldest-first,
// so insertion order matches chronology.
func (l *Loop) stageEntries(feedID int64, entries []feeds.Entry) error {
	cutoff := time.Now().UTC().Add(-postWindow)

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if feeds.Blacklisted(entry.Title) {
			log.WithField("title", entry.Title).Debug("Not staging entry, blacklisted")
			continue
		}
		existing, err := l.DB.GetArticleByURL(entry.URL)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if entry.Published.Before(cutoff) {
			continue
		}
		headline := feeds.Clean(entry.Title)
		log.WithField("article_url", entry.URL).Debug("Staging article")
		if err := l.DB.AddArticle(feedID, entry.URL, headline, entry.Published, nil); err != nil {
			return err
		}
	}
	return nil
}

// publish posts one article. A publish-side failure leaves the article
// unposted for retry next cycle; the durable posted bit flips only after
// the server acknowledged the post.
func (l *Loop) publish(cli *lemmy.Client, feed database.Feed, article *database.Article, logger *log.Entry) error {
	headline := feeds.Clean(article.Headline)

	logger.WithFields(log.Fields{
		"headline":    headline,
		"article_url": article.ArticleURL,
	}).Info("Posting article")

	postID, err := cli.CreatePost(lemmy.CreatePostOptions{
		CommunityID: feed.CommunityID,
		Name:        headline,
		URL:         article.ArticleURL,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to publish article; will retry")
		metrics.IncrementPost(feed.BotIdentity, metrics.StatusFailure)
		return nil
	}
	metrics.IncrementPost(feed.BotIdentity, metrics.StatusSuccess)
	logger.WithField("remote_post_id", postID).Debug("Posted successfully")
	return l.DB.SetArticlePostID(article.ID, postID)
}

// reschedule writes back the validators and the next due instant: a short
// fuse while backlog remains, else the cadence estimate from the freshest
// timestamps available.
func (l *Loop) reschedule(feed database.Feed, result feeds.Result) error {
	now := time.Now().UTC()

	remaining, err := l.DB.GetEarliestUnposted(feed.ID)
	if err != nil {
		return err
	}

	var nextCheck time.Time
	if remaining != nil {
		nextCheck = now.Add(feeds.MinBackoff)
	} else {
		var timestamps []time.Time
		if result.Fetched {
			for _, entry := range result.Entries {
				timestamps = append(timestamps, entry.Published)
			}
		} else {
			if timestamps, err = l.DB.GetRecentArticleTimestamps(feed.ID, recentTimestampLimit); err != nil {
				return err
			}
		}
		nextCheck = feeds.NextCheck(now, timestamps)
	}

	log.WithFields(log.Fields{
		"feed_id":    feed.ID,
		"next_check": nextCheck,
	}).Debug("Rescheduled feed")
	return l.DB.UpdateFeedValidators(feed.ID, feed.LastModified, feed.Etag, nextCheck)
}
