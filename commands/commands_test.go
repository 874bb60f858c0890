package commands

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/database"
	"github.com/andrewmoise/rssbot/lemmy"
	"github.com/andrewmoise/rssbot/testutils"
	_ "github.com/mattn/go-sqlite3"
)

// fakeServer answers the API calls the command processor makes: community
// resolution, moderator lookup, and the private-message surface.
func fakeServer(t *testing.T, calls *[]string) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		*calls = append(*calls, req.Method+" "+req.URL.Path)
		switch req.URL.Path {
		case "/api/v3/resolve_object":
			if q := req.URL.Query().Get("q"); strings.Contains(q, "/c/foo") {
				return testutils.JSONResponse(200,
					`{"community":{"community":{"id":7,"name":"foo"}}}`), nil
			}
			return testutils.JSONResponse(200, `{}`), nil
		case "/api/v3/community":
			return testutils.JSONResponse(200,
				`{"community_view":{"community":{"id":7,"name":"foo"}},
				  "moderators":[{"moderator":{"id":5,"name":"alice"}}]}`), nil
		case "/api/v3/private_message/list":
			if req.URL.Query().Get("page") == "1" {
				return testutils.JSONResponse(200,
					`{"private_messages":[{"private_message":{"id":11,"content":"/help"},"creator":{"id":5,"name":"alice"}}]}`), nil
			}
			return testutils.JSONResponse(200, `{"private_messages":[]}`), nil
		case "/api/v3/private_message/mark_as_read", "/api/v3/private_message":
			return testutils.JSONResponse(200, `{"private_message_view":{}}`), nil
		}
		t.Errorf("unexpected API call: %s %s", req.Method, req.URL)
		return testutils.JSONResponse(404, `{}`), nil
	}
}

func newTestProcessor(t *testing.T) (*Processor, *lemmy.Client, *[]string) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { db.Close() })

	var calls []string
	cli := lemmy.NewWithToken("lemmy.example", "rssbot", "tok", time.Nanosecond)
	cli.HTTPClient.Transport = testutils.NewRoundTripper(fakeServer(t, &calls))

	return &Processor{DB: db, DefaultServer: "lemmy.example"}, cli, &calls
}

func TestRespondAddThenList(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/add http://x/rss foo\n/list foo", "alice", config.IdentityFree)

	parts := strings.Split(response, "\n\n")
	if len(parts) != 4 {
		t.Fatalf("got %d reply parts, want 4: %q", len(parts), response)
	}
	if parts[0] != "> /add http://x/rss foo" {
		t.Errorf("first echo: %q", parts[0])
	}
	if parts[1] != "Added http://x/rss to !foo@lemmy.example" {
		t.Errorf("add reply: %q", parts[1])
	}
	if parts[2] != "> /list foo" {
		t.Errorf("second echo: %q", parts[2])
	}
	want := "Feeds active for !foo@lemmy.example:\n* http://x/rss"
	if parts[3] != want {
		t.Errorf("list reply: got %q, want %q", parts[3], want)
	}

	feeds, err := p.DB.ListFeeds()
	if err != nil {
		t.Fatalf("ListFeeds: %s", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("got %d feeds, want 1", len(feeds))
	}
	got := feeds[0]
	if got.FeedURL != "http://x/rss" || got.CommunityKey != "foo@lemmy.example" ||
		got.CommunityID != 7 || got.BotIdentity != "free" {
		t.Errorf("stored feed: %+v", got)
	}
}

func TestRespondAddRejectsNonModerator(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/add http://x/rss foo", "mallory", config.IdentityFree)
	if !strings.Contains(response, "mallory must be a moderator of !foo@lemmy.example to make changes.") {
		t.Errorf("response: %q", response)
	}

	feeds, _ := p.DB.ListFeeds()
	if len(feeds) != 0 {
		t.Errorf("feed was stored despite failed authorization: %+v", feeds)
	}
}

func TestRespondAddUnknownCommunity(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/add http://x/rss nosuch", "alice", config.IdentityFree)
	if !strings.Contains(response, "Could not find !nosuch@lemmy.example") {
		t.Errorf("response: %q", response)
	}
}

func TestRespondDelete(t *testing.T) {
	p, cli, _ := newTestProcessor(t)
	p.DB.AddFeed("http://x/rss", "foo@lemmy.example", 7, "free")

	response := p.Respond(cli, "/delete http://x/rss foo", "alice", config.IdentityFree)
	if !strings.Contains(response, "Deleted 1 feed from !foo@lemmy.example") {
		t.Errorf("response: %q", response)
	}

	response = p.Respond(cli, "/delete http://x/rss foo", "alice", config.IdentityFree)
	if !strings.Contains(response, "No feed http://x/rss found in !foo@lemmy.example") {
		t.Errorf("second delete: %q", response)
	}
}

func TestRespondListEmpty(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/list foo", "alice", config.IdentityFree)
	if !strings.Contains(response, "No feeds found connected to !foo@lemmy.example") {
		t.Errorf("response: %q", response)
	}
}

func TestRespondQualifiesCommunityForms(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	// Fully qualified and bang-prefixed forms land on the same community.
	response := p.Respond(cli, "/add http://x/rss !foo@lemmy.example", "alice", config.IdentityFree)
	if !strings.Contains(response, "Added http://x/rss to !foo@lemmy.example") {
		t.Errorf("response: %q", response)
	}
}

func TestRespondBadArgCount(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/add http://x/rss", "alice", config.IdentityFree)
	if !strings.Contains(response, "Invalid number of arguments for /add command.") {
		t.Errorf("response: %q", response)
	}
}

func TestRespondUnknownCommand(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/frobnicate", "alice", config.IdentityFree)
	if !strings.Contains(response, "Unknown command: frobnicate") {
		t.Errorf("response: %q", response)
	}
}

func TestRespondNoCommands(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "hello there", "alice", config.IdentityFree)
	if !strings.Contains(response, "No commands found. Did you mean to send me RSS commands?") {
		t.Errorf("response: %q", response)
	}
	if !strings.Contains(response, "Available commands:") {
		t.Errorf("help text missing: %q", response)
	}
}

func TestRespondHelp(t *testing.T) {
	p, cli, _ := newTestProcessor(t)

	response := p.Respond(cli, "/help", "alice", config.IdentityFree)
	if !strings.Contains(response, "* /add {rss_url} {community}@{instance} - Add a new RSS feed") {
		t.Errorf("response: %q", response)
	}
}

func TestPollMarksReadAndReplies(t *testing.T) {
	p, cli, calls := newTestProcessor(t)

	p.Poll(cli, config.IdentityFree)

	var markedRead, replied bool
	for _, call := range *calls {
		switch call {
		case "POST /api/v3/private_message/mark_as_read":
			markedRead = true
		case "POST /api/v3/private_message":
			replied = true
		}
	}
	if !markedRead {
		t.Error("message was not marked read")
	}
	if !replied {
		t.Error("no reply was sent")
	}
}
