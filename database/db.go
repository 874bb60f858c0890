// Package database is the durable store for feeds and articles. It is the
// sole source of truth for which articles have already been posted.
package database

import (
	"database/sql"
	"errors"
	"time"
)

// Typed integrity failures, surfaced to the operator or the DM sender
// rather than swallowed.
var (
	// ErrNoSuchFeed means a community key matched no feed row.
	ErrNoSuchFeed = errors.New("no feed matches that community")
	// ErrAmbiguousFeed means a community key matched more than one feed row.
	ErrAmbiguousFeed = errors.New("community matches more than one feed")
	// ErrNoSelector means RemoveFeed was called without any selector.
	ErrNoSelector = errors.New("at least one of community key or feed URL must be given")
)

// A Feed is a syndication endpoint polled on behalf of one community.
type Feed struct {
	ID           int64
	FeedURL      string
	CommunityKey string
	CommunityID  int64
	BotIdentity  string
	// LastModified and Etag are opaque validators from the last fetch;
	// empty when the origin never sent one.
	LastModified string
	Etag         string
	// NextCheckAt is the UTC instant the feed is due again; zero when the
	// feed has never been scheduled.
	NextCheckAt time.Time
}

// An Article is a single entry discovered in a feed. RemotePostID is nil
// until the article has been successfully published; it is set exactly once.
type Article struct {
	ID           int64
	FeedID       int64
	ArticleURL   string
	Headline     string
	FetchedAt    time.Time
	RemotePostID *int64
}

// A RSSDB stores feeds and their discovered articles.
type RSSDB struct {
	db *sql.DB
}

// Open a sqlite database as an RSSDB, creating tables and applying the
// additive column migrations if needed.
func Open(databaseURL string) (*RSSDB, error) {
	db, err := sql.Open("sqlite3", databaseURL)
	if err != nil {
		return nil, err
	}
	// Fix for "database is locked" errors
	// https://github.com/mattn/go-sqlite3/issues/274
	db.SetMaxOpenConns(1)
	if err = migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &RSSDB{db: db}, nil
}

// Close the underlying database handle.
func (d *RSSDB) Close() error {
	return d.db.Close()
}

// ListFeeds returns every feed, ordered by row ID.
func (d *RSSDB) ListFeeds() (feeds []Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		feeds, err = selectFeedsTxn(txn)
		return err
	})
	return
}

// AddFeed inserts a new feed row. (feed_url, community_id) is unique; a
// duplicate insert fails.
func (d *RSSDB) AddFeed(feedURL, communityKey string, communityID int64, botIdentity string) (feed Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		feed, err = insertFeedTxn(txn, feedURL, communityKey, communityID, botIdentity)
		return err
	})
	return
}

// UpdateFeedValidators persists the conditional-GET validators and the next
// due instant for a feed.
func (d *RSSDB) UpdateFeedValidators(feedID int64, lastModified, etag string, nextCheckAt time.Time) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return updateFeedValidatorsTxn(txn, feedID, lastModified, etag, nextCheckAt)
	})
}

// UpdateFeedURL repoints the feed for the given community key at a new URL.
// Returns ErrNoSuchFeed or ErrAmbiguousFeed when the key matches zero or
// more than one row.
func (d *RSSDB) UpdateFeedURL(communityKey, newURL, botIdentity string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return updateFeedURLTxn(txn, communityKey, newURL, botIdentity)
	})
}

// RemoveFeed deletes the feeds matching the supplied selectors and reports
// how many rows went away. Empty-string selectors are ignored; supplying
// none is an error.
func (d *RSSDB) RemoveFeed(communityKey, feedURL string) (deleted int64, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		deleted, err = removeFeedTxn(txn, communityKey, feedURL)
		return err
	})
	return
}

// GetArticleByURL returns the article with the given URL, or nil if it has
// never been seen.
func (d *RSSDB) GetArticleByURL(url string) (article *Article, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		article, err = selectArticleByURLTxn(txn, url)
		return err
	})
	return
}

// AddArticle stages a discovered article. A URL already present anywhere in
// the store makes this a no-op.
func (d *RSSDB) AddArticle(feedID int64, url, headline string, fetchedAt time.Time, remotePostID *int64) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return insertArticleTxn(txn, feedID, url, headline, fetchedAt, remotePostID)
	})
}

// SetArticlePostID records the publish identifier for an article. The
// transition is null to integer, once; a second call leaves the row alone.
func (d *RSSDB) SetArticlePostID(articleID, remotePostID int64) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return setArticlePostIDTxn(txn, articleID, remotePostID)
	})
}

// GetEarliestUnposted returns the oldest article of the feed that has not
// been published yet, or nil if the backlog is empty.
func (d *RSSDB) GetEarliestUnposted(feedID int64) (article *Article, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		article, err = selectEarliestUnpostedTxn(txn, feedID)
		return err
	})
	return
}

// GetRecentArticleTimestamps returns the discovery instants of the feed's
// most recently inserted articles, newest row first.
func (d *RSSDB) GetRecentArticleTimestamps(feedID int64, limit int) (timestamps []time.Time, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		timestamps, err = selectRecentTimestampsTxn(txn, feedID, limit)
		return err
	})
	return
}

func runTransaction(db *sql.DB, fn func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			txn.Rollback()
			panic(r)
		} else if err != nil {
			txn.Rollback()
		} else {
			err = txn.Commit()
		}
	}()
	err = fn(txn)
	return
}
