// Package lemmy provides an HTTP client for the REST v3 surface of a Lemmy
// server. One Client represents one authenticated (server, identity) session;
// instances share no mutable state, so the daemon keeps one per identity.
package lemmy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

// rateLimitedRetryDelay is how long to back off when the server answers
// 429 or 503. Such calls are retried indefinitely.
const rateLimitedRetryDelay = 60 * time.Second

// readPassword prompts for a password without echo. Swapped out in tests.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	return string(pw), err
}

// Client is an authenticated session against one Lemmy server.
type Client struct {
	Server   string
	Username string
	// HTTPClient carries the 30s hard timeout. Tests swap its Transport.
	HTTPClient *http.Client

	token      string
	limiter    *rate.Limiter
	retrySleep time.Duration
}

// New builds a client for the given identity. A persisted token is loaded
// from tokenDir if present; otherwise the operator is prompted for the
// account password and the obtained token is persisted with mode 0600.
// Every outbound call waits at least requestDelay before dispatching.
func New(server, username, tokenDir string, requestDelay time.Duration) (*Client, error) {
	cli := NewWithToken(server, username, "", requestDelay)
	path := tokenPath(tokenDir, server, username)
	token, err := loadToken(path)
	if err != nil {
		return nil, err
	}
	if token == "" {
		password, err := readPassword(fmt.Sprintf("Enter password for %s on %s: ", username, server))
		if err != nil {
			return nil, err
		}
		if token, err = cli.Login(password); err != nil {
			return nil, err
		}
		if err = saveToken(path, token); err != nil {
			return nil, err
		}
	}
	cli.token = token
	return cli, nil
}

// NewWithToken builds a client around an existing token without touching
// the token cache.
func NewWithToken(server, username, token string, requestDelay time.Duration) *Client {
	return &Client{
		Server:   server,
		Username: username,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(requestDelay), 1),
		retrySleep: rateLimitedRetryDelay,
	}
}

// Login exchanges a password for a JWT via the server's login endpoint.
func (cli *Client) Login(password string) (string, error) {
	var res loginResponse
	err := cli.doJSON("POST", "user/login", nil, loginRequest{
		UsernameOrEmail: cli.Username,
		Password:        password,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.JWT, nil
}

// CreatePost publishes a link post and returns its identifier.
func (cli *Client) CreatePost(opts CreatePostOptions) (int64, error) {
	var res postResponse
	if err := cli.doJSON("POST", "post", nil, opts, &res); err != nil {
		return 0, err
	}
	return res.PostView.Post.ID, nil
}

// CreateCommunity creates a community and returns its identifier.
func (cli *Client) CreateCommunity(opts CreateCommunityOptions) (int64, error) {
	var res communityResponse
	if err := cli.doJSON("POST", "community", nil, opts, &res); err != nil {
		return 0, err
	}
	return res.CommunityView.Community.ID, nil
}

// FetchCommunityID looks up a community by its key and returns its numeric
// identifier.
func (cli *Client) FetchCommunityID(communityKey string) (int64, error) {
	var res communityResponse
	query := url.Values{"name": []string{communityKey}}
	if err := cli.doJSON("GET", "community", query, nil, &res); err != nil {
		return 0, err
	}
	if res.CommunityView.Community.ID == 0 {
		return 0, fmt.Errorf("community %q not found", communityKey)
	}
	return res.CommunityView.Community.ID, nil
}

// FetchCommunityModerators returns the current moderators of a community.
func (cli *Client) FetchCommunityModerators(communityKey string) ([]ModeratorView, error) {
	var res communityResponse
	query := url.Values{"name": []string{communityKey}}
	if err := cli.doJSON("GET", "community", query, nil, &res); err != nil {
		return nil, err
	}
	if res.Moderators == nil {
		return nil, fmt.Errorf("community %q not found", communityKey)
	}
	return res.Moderators, nil
}

// ResolveCommunity resolves a community key of the form name@instance,
// possibly on a remote instance. Returns nil if nothing resolved.
func (cli *Client) ResolveCommunity(communityKey string) (*Community, error) {
	shortName, instance, ok := strings.Cut(communityKey, "@")
	if !ok {
		return nil, fmt.Errorf("community key %q has no instance part", communityKey)
	}
	var res resolveObjectResponse
	query := url.Values{"q": []string{fmt.Sprintf("https://%s/c/%s", instance, shortName)}}
	if err := cli.doJSON("GET", "resolve_object", query, nil, &res); err != nil {
		return nil, err
	}
	if res.Community == nil {
		return nil, nil
	}
	community := res.Community.Community
	return &community, nil
}

// FetchUserID looks up a user by actor identifier (either a bare username,
// a user@instance pair, or a full actor URL) and returns their numeric ID.
func (cli *Client) FetchUserID(actorIdentifier string) (int64, error) {
	username, err := actorToUsername(actorIdentifier)
	if err != nil {
		return 0, err
	}
	var res userResponse
	query := url.Values{"username": []string{username}}
	if err := cli.doJSON("GET", "user", query, nil, &res); err != nil {
		return 0, err
	}
	if res.PersonView == nil {
		return 0, fmt.Errorf("user %q not found", actorIdentifier)
	}
	return res.PersonView.Person.ID, nil
}

// AppointMod adds (or removes) a moderator of a community.
func (cli *Client) AppointMod(communityID, personID int64, added bool) error {
	req := struct {
		CommunityID int64 `json:"community_id"`
		PersonID    int64 `json:"person_id"`
		Added       bool  `json:"added"`
	}{communityID, personID, added}
	return cli.doJSON("POST", "community/mod", nil, req, nil)
}

// SubscribeToCommunity follows (or unfollows) a community.
func (cli *Client) SubscribeToCommunity(communityID int64, follow bool) error {
	req := struct {
		CommunityID int64 `json:"community_id"`
		Follow      bool  `json:"follow"`
	}{communityID, follow}
	return cli.doJSON("POST", "community/follow", nil, req, nil)
}

// pmPageSize is how many direct messages one page request asks for.
const pmPageSize = 20

// PrivateMessagePages lazily yields pages of the identity's direct messages
// until the server returns an empty page. Restart by calling
// PrivateMessages again.
type PrivateMessagePages struct {
	cli        *Client
	unreadOnly bool
	page       int
	done       bool
}

// Next returns the next page, or nil when the sequence is exhausted.
func (p *PrivateMessagePages) Next() ([]PrivateMessageView, error) {
	if p.done {
		return nil, nil
	}
	p.page++
	query := url.Values{
		"unread_only": []string{strconv.FormatBool(p.unreadOnly)},
		"page":        []string{strconv.Itoa(p.page)},
		"limit":       []string{strconv.Itoa(pmPageSize)},
	}
	var res privateMessagesResponse
	if err := p.cli.doJSON("GET", "private_message/list", query, nil, &res); err != nil {
		return nil, err
	}
	if len(res.PrivateMessages) == 0 {
		p.done = true
		return nil, nil
	}
	return res.PrivateMessages, nil
}

// PrivateMessages starts a lazy page sequence over the identity's direct
// messages.
func (cli *Client) PrivateMessages(unreadOnly bool) *PrivateMessagePages {
	return &PrivateMessagePages{cli: cli, unreadOnly: unreadOnly}
}

// ListPrivateMessages drains PrivateMessages into a single slice.
func (cli *Client) ListPrivateMessages(unreadOnly bool) ([]PrivateMessageView, error) {
	var all []PrivateMessageView
	pages := cli.PrivateMessages(unreadOnly)
	for {
		page, err := pages.Next()
		if err != nil {
			return nil, err
		}
		if page == nil {
			return all, nil
		}
		all = append(all, page...)
	}
}

// MarkPrivateMessageRead marks a direct message read or unread.
func (cli *Client) MarkPrivateMessageRead(privateMessageID int64, read bool) error {
	req := struct {
		PrivateMessageID int64 `json:"private_message_id"`
		Read             bool  `json:"read"`
	}{privateMessageID, read}
	var res privateMessageResponse
	return cli.doJSON("POST", "private_message/mark_as_read", nil, req, &res)
}

// SendPrivateMessage sends a direct message to a user.
func (cli *Client) SendPrivateMessage(recipientID int64, content string) error {
	req := struct {
		RecipientID int64  `json:"recipient_id"`
		Content     string `json:"content"`
	}{recipientID, content}
	var res privateMessageResponse
	return cli.doJSON("POST", "private_message", nil, req, &res)
}

// actorToUsername converts an actor URL like https://instance/u/name into
// name@instance. Bare usernames and user@instance pairs pass through.
func actorToUsername(actor string) (string, error) {
	if !strings.Contains(actor, "/") {
		return actor, nil
	}
	u, err := url.Parse(actor)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid actor identifier %q", actor)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "u" {
		return "", fmt.Errorf("invalid actor identifier %q", actor)
	}
	return fmt.Sprintf("%s@%s", parts[1], u.Host), nil
}

// doJSON performs one API call, honouring the per-client minimum delay and
// retrying indefinitely on 429/503. Any other non-2xx is returned as an
// HTTPError.
func (cli *Client) doJSON(method, apiPath string, query url.Values, reqBody, resBody interface{}) error {
	endpoint := &url.URL{
		Scheme: "https",
		Host:   cli.Server,
		Path:   "/api/v3/" + apiPath,
	}
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reqJSON []byte
	if reqBody != nil {
		var err error
		if reqJSON, err = json.Marshal(reqBody); err != nil {
			return err
		}
	}

	logger := log.WithFields(log.Fields{
		"user_id": cli.Username,
		"method":  method,
		"path":    apiPath,
	})

	for {
		if err := cli.limiter.Wait(context.Background()); err != nil {
			return err
		}

		var bodyReader io.Reader
		if reqJSON != nil {
			bodyReader = bytes.NewReader(reqJSON)
		}
		req, err := http.NewRequest(method, endpoint.String(), bodyReader)
		if err != nil {
			return err
		}
		if reqJSON != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if cli.token != "" {
			req.Header.Set("Authorization", "Bearer "+cli.token)
		}

		res, err := cli.HTTPClient.Do(req)
		if err != nil {
			logger.WithError(err).Error("API request failed")
			return err
		}
		contents, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return err
		}

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable {
			logger.WithField("status", res.StatusCode).Warn("Rate limited; sleeping before retry")
			time.Sleep(cli.retrySleep)
			continue
		}
		if res.StatusCode/100 != 2 {
			logger.WithFields(log.Fields{
				"status": res.StatusCode,
				"body":   string(contents),
			}).Error("API request rejected")
			return HTTPError{
				Code:    res.StatusCode,
				Message: fmt.Sprintf("%s %s returned HTTP %d", method, apiPath, res.StatusCode),
			}
		}
		if resBody != nil {
			if err := json.Unmarshal(contents, resBody); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", apiPath, err)
			}
		}
		return nil
	}
}
