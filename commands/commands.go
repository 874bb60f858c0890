// Package commands absorbs operator commands arriving as direct messages:
// it parses command lines, checks moderator authorization against the
// publishing server, and mutates the feed store.
package commands

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/database"
	"github.com/andrewmoise/rssbot/lemmy"
	"github.com/andrewmoise/rssbot/metrics"
	shellwords "github.com/mattn/go-shellwords"
	log "github.com/sirupsen/logrus"
)

const helpText = `Available commands:
* /add {rss_url} {community}@{instance} - Add a new RSS feed
* /delete {rss_url} {community}@{instance} - Delete an existing RSS feed
* /list {community}@{instance} - List all feeds for a community
* /help - Show this help message

You can include multiple commands in a single message, each on a new line.`

var commandRE = regexp.MustCompile(`/(\w+)(.*)`)

// commandKind tags the recognized command variants.
type commandKind int

const (
	cmdAdd commandKind = iota
	cmdDelete
	cmdList
	cmdHelp
	cmdUnknown
)

func kindOf(name string) commandKind {
	switch name {
	case "add":
		return cmdAdd
	case "delete":
		return cmdDelete
	case "list":
		return cmdList
	case "help":
		return cmdHelp
	}
	return cmdUnknown
}

// A Processor handles the direct-message command traffic for the bot
// identities.
type Processor struct {
	DB database.Storer
	// DefaultServer is appended to community identifiers that omit an
	// instance part.
	DefaultServer string
}

// Poll fetches this identity's unread direct messages, executes any
// commands they carry, marks each message read, and replies to the sender.
func (p *Processor) Poll(api *lemmy.Client, identity config.Identity) {
	logger := log.WithField("identity", identity)
	logger.Debug("Polling for messages")

	msgs, err := api.ListPrivateMessages(true)
	if err != nil {
		logger.WithError(err).Error("Failed to list private messages")
		return
	}
	for _, pm := range msgs {
		logger.WithFields(log.Fields{
			"sender":  pm.Creator.Name,
			"content": pm.PrivateMessage.Content,
		}).Info("Received private message")

		response := p.Respond(api, pm.PrivateMessage.Content, pm.Creator.Name, identity)
		if err := api.MarkPrivateMessageRead(pm.PrivateMessage.ID, true); err != nil {
			logger.WithError(err).Error("Failed to mark message read")
		}
		if err := api.SendPrivateMessage(pm.Creator.ID, response); err != nil {
			logger.WithError(err).Error("Failed to send response")
		}
	}
}

// Respond executes every command in a message body and returns the
// aggregated reply. One failing command never aborts the batch.
func (p *Processor) Respond(api *lemmy.Client, content, senderName string, identity config.Identity) string {
	var response []string

	for _, line := range strings.Split(content, "\n") {
		match := commandRE.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name := match[1]
		args, err := shellwords.Parse(strings.TrimSpace(match[2]))
		if err != nil {
			args = strings.Fields(match[2])
		}

		log.WithFields(log.Fields{
			"command": name,
			"args":    args,
			"sender":  senderName,
		}).Info("Found command")

		response = append(response, "> "+line)
		reply, err := p.run(api, name, args, senderName, identity)
		if err != nil {
			log.WithError(err).WithField("command", name).Error("Error processing command")
			metrics.IncrementCommand(name, metrics.StatusFailure)
			reply = []string{fmt.Sprintf("An error occurred while processing the '%s' command. "+
				"Please try again later or contact the bot administrator if the problem persists.", name)}
		} else {
			metrics.IncrementCommand(name, metrics.StatusSuccess)
		}
		response = append(response, reply...)
	}

	if len(response) == 0 {
		response = append(response, "No commands found. Did you mean to send me RSS commands?", helpText)
	}
	return strings.Join(response, "\n\n")
}

func (p *Processor) run(api *lemmy.Client, name string, args []string, senderName string, identity config.Identity) ([]string, error) {
	switch kindOf(name) {
	case cmdAdd:
		return p.runAdd(api, args, senderName, identity)
	case cmdDelete:
		return p.runDelete(api, args, senderName)
	case cmdList:
		return p.runList(args)
	case cmdHelp:
		return []string{helpText}, nil
	}
	return []string{fmt.Sprintf("Unknown command: %s", name)}, nil
}

func (p *Processor) runAdd(api *lemmy.Client, args []string, senderName string, identity config.Identity) ([]string, error) {
	if len(args) != 2 {
		return []string{"Invalid number of arguments for /add command."}, nil
	}
	rssURL := args[0]
	communityKey := p.qualify(args[1])

	community, err := api.ResolveCommunity(communityKey)
	if err != nil {
		return nil, err
	}
	if community == nil {
		return []string{fmt.Sprintf("Could not find !%s", communityKey)}, nil
	}
	isMod, err := p.checkModerator(api, senderName, communityKey)
	if err != nil {
		return nil, err
	}
	if !isMod {
		return []string{fmt.Sprintf("%s must be a moderator of !%s to make changes.", senderName, communityKey)}, nil
	}
	if _, err := p.DB.AddFeed(rssURL, communityKey, community.ID, string(identity)); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Added %s to !%s", rssURL, communityKey)}, nil
}

func (p *Processor) runDelete(api *lemmy.Client, args []string, senderName string) ([]string, error) {
	if len(args) != 2 {
		return []string{"Invalid number of arguments for /delete command."}, nil
	}
	rssURL := args[0]
	communityKey := p.qualify(args[1])

	isMod, err := p.checkModerator(api, senderName, communityKey)
	if err != nil {
		return nil, err
	}
	if !isMod {
		return []string{fmt.Sprintf("%s must be a moderator of !%s to make changes.", senderName, communityKey)}, nil
	}
	deleted, err := p.DB.RemoveFeed(communityKey, rssURL)
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		return []string{fmt.Sprintf("No feed %s found in !%s", rssURL, communityKey)}, nil
	}
	plural := ""
	if deleted > 1 {
		plural = "s"
	}
	return []string{fmt.Sprintf("Deleted %d feed%s from !%s", deleted, plural, communityKey)}, nil
}

func (p *Processor) runList(args []string) ([]string, error) {
	if len(args) != 1 {
		return []string{"Invalid number of arguments for /list command."}, nil
	}
	communityKey := p.qualify(args[0])

	feeds, err := p.DB.ListFeeds()
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, feed := range feeds {
		if p.qualify(feed.CommunityKey) == communityKey {
			matched = append(matched, "* "+feed.FeedURL)
		}
	}
	if len(matched) == 0 {
		return []string{fmt.Sprintf("No feeds found connected to !%s", communityKey)}, nil
	}
	// A single newline binds the header to the first entry.
	matched[0] = fmt.Sprintf("Feeds active for !%s:\n%s", communityKey, matched[0])
	return matched, nil
}

// checkModerator reports whether senderName currently moderates the
// community.
func (p *Processor) checkModerator(api *lemmy.Client, senderName, communityKey string) (bool, error) {
	log.WithFields(log.Fields{
		"sender":    senderName,
		"community": communityKey,
	}).Debug("Checking moderator status")
	mods, err := api.FetchCommunityModerators(communityKey)
	if err != nil {
		return false, err
	}
	for _, mod := range mods {
		if mod.Moderator.Name == senderName {
			return true, nil
		}
	}
	return false, nil
}

// qualify strips a leading ! and appends the default instance when the
// community identifier omits one.
func (p *Processor) qualify(communityKey string) string {
	communityKey = strings.TrimPrefix(communityKey, "!")
	if !strings.Contains(communityKey, "@") {
		communityKey = communityKey + "@" + p.DefaultServer
	}
	return communityKey
}
