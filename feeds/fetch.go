// Package feeds fetches syndication feeds with validator-based conditional
// requests, normalizes headlines, and estimates per-feed polling cadence.
package feeds

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

// UserAgent is sent on every feed GET.
const UserAgent = "Lemmy RSSBot"

// fetchTimeout bounds each feed fetch.
const fetchTimeout = 30 * time.Second

// An Entry is one item discovered in a feed.
type Entry struct {
	URL       string
	Title     string
	Published time.Time
}

// A Result is the outcome of one conditional fetch. Fetched is true only
// when a 2xx body was retrieved and parsed; a 304 or a failure leaves it
// false with the prior validators preserved.
type Result struct {
	Entries      []Entry
	LastModified string
	Etag         string
	Fetched      bool
}

// A Fetcher issues conditional GETs against feed origins.
type Fetcher struct {
	// HTTPClient carries the fetch timeout. Tests swap its Transport.
	HTTPClient *http.Client
}

// NewFetcher makes a Fetcher with the default timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch GETs a feed, attaching If-Modified-Since / If-None-Match when prior
// validators are known. Network errors, unparseable bodies and unexpected
// statuses are logged and reported as an empty cycle with the prior
// validators unchanged; the error return is for the caller's accounting
// only and never carries new state.
func (f *Fetcher) Fetch(feedURL, lastModified, etag string) (Result, error) {
	unchanged := Result{LastModified: lastModified, Etag: etag}
	logger := log.WithField("feed_url", feedURL)

	req, err := http.NewRequest("GET", feedURL, nil)
	if err != nil {
		return unchanged, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	res, err := f.HTTPClient.Do(req)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch feed")
		return unchanged, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		logger.Debug("Not modified since last check")
		return unchanged, nil
	}
	if res.StatusCode/100 != 2 {
		logger.WithField("status", res.StatusCode).Error("Feed fetch returned unexpected status")
		return unchanged, &gofeed.HTTPError{StatusCode: res.StatusCode, Status: res.Status}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		logger.WithError(err).Error("Failed to read feed body")
		return unchanged, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		logger.WithError(err).Error("Failed to parse feed")
		return unchanged, err
	}

	result := Result{
		LastModified: lastModified,
		Etag:         etag,
		Fetched:      true,
	}
	if lm := res.Header.Get("Last-Modified"); lm != "" {
		result.LastModified = lm
	}
	if et := res.Header.Get("ETag"); et != "" {
		result.Etag = et
	}

	now := time.Now().UTC()
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		entry := Entry{URL: item.Link, Title: item.Title, Published: now}
		if item.PublishedParsed != nil {
			entry.Published = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			entry.Published = item.UpdatedParsed.UTC()
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
