package database

import (
	"database/sql"
	"strings"
	"time"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rss_feeds (
	id INTEGER PRIMARY KEY,
	feed_url TEXT NOT NULL,
	community_key TEXT NOT NULL,
	community_id INTEGER NOT NULL,
	last_modified TEXT,
	next_check_at TIMESTAMP,
	UNIQUE(feed_url, community_id)
);

CREATE TABLE IF NOT EXISTS rss_articles (
	id INTEGER PRIMARY KEY,
	feed_id INTEGER NOT NULL,
	article_url TEXT NOT NULL UNIQUE,
	headline TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL,
	remote_post_id INTEGER,
	FOREIGN KEY (feed_id) REFERENCES rss_feeds(id)
);
`

// Columns added after the initial schema shipped. Each statement is applied
// on startup and "duplicate column name" errors are ignored, so migration is
// idempotent and existing rows keep NULL / default values.
var migrationSQL = []string{
	`ALTER TABLE rss_feeds ADD COLUMN etag TEXT`,
	`ALTER TABLE rss_feeds ADD COLUMN bot_identity TEXT NOT NULL DEFAULT 'free'`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	for _, stmt := range migrationSQL {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

const selectFeedsSQL = `
SELECT id, feed_url, community_key, community_id, last_modified, etag, next_check_at, bot_identity
FROM rss_feeds ORDER BY id ASC
`

func selectFeedsTxn(txn *sql.Tx) (feeds []Feed, err error) {
	rows, err := txn.Query(selectFeedsSQL)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var f Feed
		if f, err = scanFeed(rows); err != nil {
			return
		}
		feeds = append(feeds, f)
	}
	err = rows.Err()
	return
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row rowScanner) (f Feed, err error) {
	var lastModified, etag sql.NullString
	var nextCheck sql.NullTime
	err = row.Scan(&f.ID, &f.FeedURL, &f.CommunityKey, &f.CommunityID,
		&lastModified, &etag, &nextCheck, &f.BotIdentity)
	if err != nil {
		return
	}
	f.LastModified = lastModified.String
	f.Etag = etag.String
	if nextCheck.Valid {
		f.NextCheckAt = nextCheck.Time.UTC()
	}
	return
}

const insertFeedSQL = `
INSERT INTO rss_feeds(feed_url, community_key, community_id, bot_identity)
VALUES ($1, $2, $3, $4)
`

func insertFeedTxn(txn *sql.Tx, feedURL, communityKey string, communityID int64, botIdentity string) (Feed, error) {
	res, err := txn.Exec(insertFeedSQL, feedURL, communityKey, communityID, botIdentity)
	if err != nil {
		return Feed{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Feed{}, err
	}
	return Feed{
		ID:           id,
		FeedURL:      feedURL,
		CommunityKey: communityKey,
		CommunityID:  communityID,
		BotIdentity:  botIdentity,
	}, nil
}

const updateFeedValidatorsSQL = `
UPDATE rss_feeds SET last_modified = $1, etag = $2, next_check_at = $3 WHERE id = $4
`

func updateFeedValidatorsTxn(txn *sql.Tx, feedID int64, lastModified, etag string, nextCheckAt time.Time) error {
	_, err := txn.Exec(updateFeedValidatorsSQL,
		nullString(lastModified), nullString(etag), nextCheckAt.UTC(), feedID)
	return err
}

const countFeedsByCommunityKeySQL = `
SELECT COUNT(*) FROM rss_feeds WHERE community_key = $1
`

const updateFeedURLSQL = `
UPDATE rss_feeds SET feed_url = $1, bot_identity = $2 WHERE community_key = $3
`

func updateFeedURLTxn(txn *sql.Tx, communityKey, newURL, botIdentity string) error {
	var n int
	if err := txn.QueryRow(countFeedsByCommunityKeySQL, communityKey).Scan(&n); err != nil {
		return err
	}
	switch {
	case n == 0:
		return ErrNoSuchFeed
	case n > 1:
		return ErrAmbiguousFeed
	}
	_, err := txn.Exec(updateFeedURLSQL, newURL, botIdentity, communityKey)
	return err
}

func removeFeedTxn(txn *sql.Tx, communityKey, feedURL string) (int64, error) {
	where := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)
	if communityKey != "" {
		where = append(where, "community_key = ?")
		args = append(args, communityKey)
	}
	if feedURL != "" {
		where = append(where, "feed_url = ?")
		args = append(args, feedURL)
	}
	if len(where) == 0 {
		return 0, ErrNoSelector
	}
	res, err := txn.Exec("DELETE FROM rss_feeds WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectArticleByURLSQL = `
SELECT id, feed_id, article_url, headline, fetched_at, remote_post_id
FROM rss_articles WHERE article_url = $1
`

func selectArticleByURLTxn(txn *sql.Tx, url string) (*Article, error) {
	return scanArticle(txn.QueryRow(selectArticleByURLSQL, url))
}

const selectEarliestUnpostedSQL = `
SELECT id, feed_id, article_url, headline, fetched_at, remote_post_id
FROM rss_articles WHERE feed_id = $1 AND remote_post_id IS NULL
ORDER BY id ASC LIMIT 1
`

func selectEarliestUnpostedTxn(txn *sql.Tx, feedID int64) (*Article, error) {
	return scanArticle(txn.QueryRow(selectEarliestUnpostedSQL, feedID))
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	var postID sql.NullInt64
	var fetchedAt sql.NullTime
	err := row.Scan(&a.ID, &a.FeedID, &a.ArticleURL, &a.Headline, &fetchedAt, &postID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if fetchedAt.Valid {
		a.FetchedAt = fetchedAt.Time.UTC()
	}
	if postID.Valid {
		a.RemotePostID = &postID.Int64
	}
	return &a, nil
}

const insertArticleSQL = `
INSERT OR IGNORE INTO rss_articles(feed_id, article_url, headline, fetched_at, remote_post_id)
VALUES ($1, $2, $3, $4, $5)
`

func insertArticleTxn(txn *sql.Tx, feedID int64, url, headline string, fetchedAt time.Time, remotePostID *int64) error {
	var postID sql.NullInt64
	if remotePostID != nil {
		postID = sql.NullInt64{Int64: *remotePostID, Valid: true}
	}
	_, err := txn.Exec(insertArticleSQL, feedID, url, headline, fetchedAt.UTC(), postID)
	return err
}

const setArticlePostIDSQL = `
UPDATE rss_articles SET remote_post_id = $1 WHERE id = $2 AND remote_post_id IS NULL
`

func setArticlePostIDTxn(txn *sql.Tx, articleID, remotePostID int64) error {
	_, err := txn.Exec(setArticlePostIDSQL, remotePostID, articleID)
	return err
}

const selectRecentTimestampsSQL = `
SELECT fetched_at FROM rss_articles WHERE feed_id = $1 ORDER BY id DESC LIMIT $2
`

func selectRecentTimestampsTxn(txn *sql.Tx, feedID int64, limit int) (timestamps []time.Time, err error) {
	rows, err := txn.Query(selectRecentTimestampsSQL, feedID, limit)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var ts time.Time
		if err = rows.Scan(&ts); err != nil {
			return
		}
		timestamps = append(timestamps, ts.UTC())
	}
	err = rows.Err()
	return
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
