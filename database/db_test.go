package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *RSSDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddFeedAndList(t *testing.T) {
	db := openTestDB(t)

	feed, err := db.AddFeed("http://example.com/rss", "news@lemmy.world", 42, "free")
	if err != nil {
		t.Fatalf("AddFeed: %s", err)
	}
	if feed.ID == 0 {
		t.Error("AddFeed returned zero row ID")
	}

	feeds, err := db.ListFeeds()
	if err != nil {
		t.Fatalf("ListFeeds: %s", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("ListFeeds: got %d feeds, want 1", len(feeds))
	}
	got := feeds[0]
	if got.FeedURL != "http://example.com/rss" || got.CommunityKey != "news@lemmy.world" ||
		got.CommunityID != 42 || got.BotIdentity != "free" {
		t.Errorf("ListFeeds returned wrong feed: %+v", got)
	}
	if !got.NextCheckAt.IsZero() {
		t.Errorf("new feed should have no schedule, got %v", got.NextCheckAt)
	}
}

func TestAddFeedDuplicate(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.AddFeed("http://example.com/rss", "news@lemmy.world", 42, "free"); err != nil {
		t.Fatalf("AddFeed: %s", err)
	}
	if _, err := db.AddFeed("http://example.com/rss", "news@lemmy.world", 42, "free"); err == nil {
		t.Error("duplicate (feed_url, community_id) insert should fail")
	}
	// Same URL into a different community is fine.
	if _, err := db.AddFeed("http://example.com/rss", "other@lemmy.world", 43, "free"); err != nil {
		t.Errorf("same URL, different community: %s", err)
	}
}

func TestUpdateFeedValidators(t *testing.T) {
	db := openTestDB(t)

	feed, err := db.AddFeed("http://example.com/rss", "news@lemmy.world", 42, "free")
	if err != nil {
		t.Fatalf("AddFeed: %s", err)
	}
	next := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := db.UpdateFeedValidators(feed.ID, "Wed, 21 Oct 2015 07:28:00 GMT", `"abc123"`, next); err != nil {
		t.Fatalf("UpdateFeedValidators: %s", err)
	}

	feeds, err := db.ListFeeds()
	if err != nil {
		t.Fatalf("ListFeeds: %s", err)
	}
	got := feeds[0]
	if got.LastModified != "Wed, 21 Oct 2015 07:28:00 GMT" {
		t.Errorf("LastModified: got %q", got.LastModified)
	}
	if got.Etag != `"abc123"` {
		t.Errorf("Etag: got %q", got.Etag)
	}
	if !got.NextCheckAt.Equal(next) {
		t.Errorf("NextCheckAt: got %v, want %v", got.NextCheckAt, next)
	}
}

func TestUpdateFeedURL(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpdateFeedURL("news@lemmy.world", "http://new/rss", "free"); !errors.Is(err, ErrNoSuchFeed) {
		t.Errorf("no match: got %v, want ErrNoSuchFeed", err)
	}

	if _, err := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateFeedURL("news@lemmy.world", "http://new/rss", "paywall"); err != nil {
		t.Fatalf("UpdateFeedURL: %s", err)
	}
	feeds, _ := db.ListFeeds()
	if feeds[0].FeedURL != "http://new/rss" || feeds[0].BotIdentity != "paywall" {
		t.Errorf("feed not repointed: %+v", feeds[0])
	}

	if _, err := db.AddFeed("http://b/rss", "news@lemmy.world", 2, "free"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateFeedURL("news@lemmy.world", "http://c/rss", "free"); !errors.Is(err, ErrAmbiguousFeed) {
		t.Errorf("two matches: got %v, want ErrAmbiguousFeed", err)
	}
}

func TestRemoveFeedSelectors(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.RemoveFeed("", ""); !errors.Is(err, ErrNoSelector) {
		t.Errorf("no selectors: got %v, want ErrNoSelector", err)
	}

	db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free")
	db.AddFeed("http://b/rss", "news@lemmy.world", 1, "free")
	db.AddFeed("http://a/rss", "tech@lemmy.world", 2, "free")

	deleted, err := db.RemoveFeed("news@lemmy.world", "http://a/rss")
	if err != nil {
		t.Fatalf("RemoveFeed: %s", err)
	}
	if deleted != 1 {
		t.Errorf("both selectors: deleted %d, want 1", deleted)
	}

	deleted, err = db.RemoveFeed("", "http://a/rss")
	if err != nil {
		t.Fatalf("RemoveFeed: %s", err)
	}
	if deleted != 1 {
		t.Errorf("URL only: deleted %d, want 1", deleted)
	}

	deleted, err = db.RemoveFeed("news@lemmy.world", "")
	if err != nil {
		t.Fatalf("RemoveFeed: %s", err)
	}
	if deleted != 1 {
		t.Errorf("community only: deleted %d, want 1", deleted)
	}
}

func TestArticleDedup(t *testing.T) {
	db := openTestDB(t)
	feed, _ := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free")

	now := time.Now().UTC()
	if err := db.AddArticle(feed.ID, "http://a/1", "First headline", now, nil); err != nil {
		t.Fatalf("AddArticle: %s", err)
	}
	// Same URL again, even with different metadata, is silently ignored.
	if err := db.AddArticle(feed.ID, "http://a/1", "Different headline", now.Add(time.Hour), nil); err != nil {
		t.Fatalf("AddArticle duplicate: %s", err)
	}

	article, err := db.GetArticleByURL("http://a/1")
	if err != nil {
		t.Fatalf("GetArticleByURL: %s", err)
	}
	if article == nil {
		t.Fatal("article not found")
	}
	if article.Headline != "First headline" {
		t.Errorf("duplicate insert clobbered row: %q", article.Headline)
	}

	missing, err := db.GetArticleByURL("http://a/never")
	if err != nil {
		t.Fatalf("GetArticleByURL: %s", err)
	}
	if missing != nil {
		t.Errorf("unknown URL should return nil, got %+v", missing)
	}
}

func TestEarliestUnpostedIsFIFO(t *testing.T) {
	db := openTestDB(t)
	feed, _ := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free")

	now := time.Now().UTC()
	db.AddArticle(feed.ID, "http://a/1", "one", now, nil)
	db.AddArticle(feed.ID, "http://a/2", "two", now, nil)
	db.AddArticle(feed.ID, "http://a/3", "three", now, nil)

	first, err := db.GetEarliestUnposted(feed.ID)
	if err != nil {
		t.Fatalf("GetEarliestUnposted: %s", err)
	}
	if first == nil || first.ArticleURL != "http://a/1" {
		t.Fatalf("earliest unposted: got %+v, want http://a/1", first)
	}

	if err := db.SetArticlePostID(first.ID, 1001); err != nil {
		t.Fatalf("SetArticlePostID: %s", err)
	}
	second, err := db.GetEarliestUnposted(feed.ID)
	if err != nil {
		t.Fatalf("GetEarliestUnposted: %s", err)
	}
	if second == nil || second.ArticleURL != "http://a/2" {
		t.Fatalf("after posting first: got %+v, want http://a/2", second)
	}
}

func TestSetArticlePostIDOnce(t *testing.T) {
	db := openTestDB(t)
	feed, _ := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free")
	db.AddArticle(feed.ID, "http://a/1", "one", time.Now().UTC(), nil)

	article, _ := db.GetArticleByURL("http://a/1")
	if article.RemotePostID != nil {
		t.Fatalf("fresh article should be unposted, got %d", *article.RemotePostID)
	}

	if err := db.SetArticlePostID(article.ID, 1001); err != nil {
		t.Fatalf("SetArticlePostID: %s", err)
	}
	// The null-to-integer transition happens once; later calls are no-ops.
	if err := db.SetArticlePostID(article.ID, 2002); err != nil {
		t.Fatalf("SetArticlePostID second call: %s", err)
	}

	article, _ = db.GetArticleByURL("http://a/1")
	if article.RemotePostID == nil || *article.RemotePostID != 1001 {
		t.Errorf("remote post ID should stay 1001, got %v", article.RemotePostID)
	}
}

func TestRecentArticleTimestamps(t *testing.T) {
	db := openTestDB(t)
	feed, _ := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free")

	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		db.AddArticle(feed.ID, fmt.Sprintf("http://a/%d", i), "hl", base.Add(time.Duration(i)*time.Hour), nil)
	}

	timestamps, err := db.GetRecentArticleTimestamps(feed.ID, 3)
	if err != nil {
		t.Fatalf("GetRecentArticleTimestamps: %s", err)
	}
	if len(timestamps) != 3 {
		t.Fatalf("got %d timestamps, want 3", len(timestamps))
	}
	// Newest insertion first.
	if !timestamps[0].Equal(base.Add(4 * time.Hour)) {
		t.Errorf("first timestamp: got %v, want %v", timestamps[0], base.Add(4*time.Hour))
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %s", err)
	}
	if _, err := db.AddFeed("http://a/rss", "news@lemmy.world", 1, "free"); err != nil {
		t.Fatalf("AddFeed: %s", err)
	}
	db.Close()

	// Reopening reapplies the column migrations without complaint and the
	// data survives.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %s", err)
	}
	defer db.Close()
	feeds, err := db.ListFeeds()
	if err != nil {
		t.Fatalf("ListFeeds: %s", err)
	}
	if len(feeds) != 1 || feeds[0].BotIdentity != "free" {
		t.Errorf("data lost across reopen: %+v", feeds)
	}
}
