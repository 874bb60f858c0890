package database

import "time"

// Storer is the interface through which every other component reads and
// writes feeds and articles.
type Storer interface {
	ListFeeds() ([]Feed, error)
	AddFeed(feedURL, communityKey string, communityID int64, botIdentity string) (Feed, error)
	UpdateFeedValidators(feedID int64, lastModified, etag string, nextCheckAt time.Time) error
	UpdateFeedURL(communityKey, newURL, botIdentity string) error
	RemoveFeed(communityKey, feedURL string) (int64, error)
	GetArticleByURL(url string) (*Article, error)
	AddArticle(feedID int64, url, headline string, fetchedAt time.Time, remotePostID *int64) error
	SetArticlePostID(articleID, remotePostID int64) error
	GetEarliestUnposted(feedID int64) (*Article, error)
	GetRecentArticleTimestamps(feedID int64, limit int) ([]time.Time, error)
}

// NopStorage implements Storer by doing nothing. Useful for tests.
type NopStorage struct{}

// ListFeeds does nothing.
func (s *NopStorage) ListFeeds() ([]Feed, error) { return nil, nil }

// AddFeed does nothing.
func (s *NopStorage) AddFeed(feedURL, communityKey string, communityID int64, botIdentity string) (Feed, error) {
	return Feed{}, nil
}

// UpdateFeedValidators does nothing.
func (s *NopStorage) UpdateFeedValidators(feedID int64, lastModified, etag string, nextCheckAt time.Time) error {
	return nil
}

// UpdateFeedURL does nothing.
func (s *NopStorage) UpdateFeedURL(communityKey, newURL, botIdentity string) error { return nil }

// RemoveFeed does nothing.
func (s *NopStorage) RemoveFeed(communityKey, feedURL string) (int64, error) { return 0, nil }

// GetArticleByURL does nothing.
func (s *NopStorage) GetArticleByURL(url string) (*Article, error) { return nil, nil }

// AddArticle does nothing.
func (s *NopStorage) AddArticle(feedID int64, url, headline string, fetchedAt time.Time, remotePostID *int64) error {
	return nil
}

// SetArticlePostID does nothing.
func (s *NopStorage) SetArticlePostID(articleID, remotePostID int64) error { return nil }

// GetEarliestUnposted does nothing.
func (s *NopStorage) GetEarliestUnposted(feedID int64) (*Article, error) { return nil, nil }

// GetRecentArticleTimestamps does nothing.
func (s *NopStorage) GetRecentArticleTimestamps(feedID int64, limit int) ([]time.Time, error) {
	return nil, nil
}
