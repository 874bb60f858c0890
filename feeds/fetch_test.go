package feeds

import (
	"net/http"
	"testing"
	"time"

	"github.com/andrewmoise/rssbot/testutils"
	"github.com/mmcdole/gofeed"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Example Feed</title>
<item><title>Second article</title><link>http://example.com/2</link><pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate></item>
<item><title>First article</title><link>http://example.com/1</link><pubDate>Sun, 23 Aug 2026 10:00:00 GMT</pubDate></item>
</channel></rss>`

func newTestFetcher(rt func(*http.Request) (*http.Response, error)) *Fetcher {
	f := NewFetcher()
	f.HTTPClient.Transport = testutils.NewRoundTripper(rt)
	return f
}

func TestFetchParsesEntries(t *testing.T) {
	f := newTestFetcher(func(req *http.Request) (*http.Response, error) {
		if ua := req.Header.Get("User-Agent"); ua != UserAgent {
			t.Errorf("User-Agent: got %q, want %q", ua, UserAgent)
		}
		if req.Header.Get("If-Modified-Since") != "" || req.Header.Get("If-None-Match") != "" {
			t.Error("first fetch should not carry validators")
		}
		return testutils.Response(200, rssBody, map[string]string{
			"Last-Modified": "Mon, 24 Aug 2026 10:00:00 GMT",
			"ETag":          `"v2"`,
		}), nil
	})

	result, err := f.Fetch("http://example.com/rss", "", "")
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	if !result.Fetched {
		t.Error("Fetched should be true on a 200")
	}
	if result.LastModified != "Mon, 24 Aug 2026 10:00:00 GMT" || result.Etag != `"v2"` {
		t.Errorf("validators not captured: %q / %q", result.LastModified, result.Etag)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(result.Entries))
	}
	// Document order: newest first.
	if result.Entries[0].URL != "http://example.com/2" || result.Entries[0].Title != "Second article" {
		t.Errorf("first entry: %+v", result.Entries[0])
	}
	want := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if !result.Entries[0].Published.Equal(want) {
		t.Errorf("published: got %v, want %v", result.Entries[0].Published, want)
	}
}

func TestFetchNotModified(t *testing.T) {
	f := newTestFetcher(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("If-Modified-Since") != "Mon, 24 Aug 2026 10:00:00 GMT" {
			t.Errorf("If-Modified-Since not sent: %q", req.Header.Get("If-Modified-Since"))
		}
		if req.Header.Get("If-None-Match") != `"v2"` {
			t.Errorf("If-None-Match not sent: %q", req.Header.Get("If-None-Match"))
		}
		return testutils.Response(304, "", nil), nil
	})

	result, err := f.Fetch("http://example.com/rss", "Mon, 24 Aug 2026 10:00:00 GMT", `"v2"`)
	if err != nil {
		t.Fatalf("Fetch: %s", err)
	}
	if result.Fetched {
		t.Error("Fetched should be false on a 304")
	}
	if len(result.Entries) != 0 {
		t.Errorf("304 should yield no entries, got %d", len(result.Entries))
	}
	if result.LastModified != "Mon, 24 Aug 2026 10:00:00 GMT" || result.Etag != `"v2"` {
		t.Errorf("validators should be preserved: %q / %q", result.LastModified, result.Etag)
	}
}

func TestFetchServerError(t *testing.T) {
	f := newTestFetcher(func(req *http.Request) (*http.Response, error) {
		return testutils.Response(503, "overloaded", nil), nil
	})

	result, err := f.Fetch("http://example.com/rss", "prior", `"v1"`)
	if err == nil {
		t.Fatal("expected an error on a 503")
	}
	if _, ok := err.(*gofeed.HTTPError); !ok {
		t.Errorf("error should carry the HTTP status, got %T", err)
	}
	if result.Fetched {
		t.Error("Fetched should be false on a failure")
	}
	if result.LastModified != "prior" || result.Etag != `"v1"` {
		t.Errorf("validators should be preserved on failure: %q / %q", result.LastModified, result.Etag)
	}
}

func TestFetchUnparseableBody(t *testing.T) {
	f := newTestFetcher(func(req *http.Request) (*http.Response, error) {
		return testutils.Response(200, "this is not a feed", nil), nil
	})

	result, err := f.Fetch("http://example.com/rss", "prior", "")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if result.Fetched {
		t.Error("Fetched should be false when the body does not parse")
	}
	if result.LastModified != "prior" {
		t.Errorf("validators should be preserved: %q", result.LastModified)
	}
}
