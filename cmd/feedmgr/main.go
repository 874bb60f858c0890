// feedmgr is the operator's one-shot tool for wiring feeds to communities:
// it validates the feed, optionally creates the target community with a
// scraped icon, appoints moderators, and records the feed row.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andrewmoise/rssbot/clients"
	"github.com/andrewmoise/rssbot/config"
	"github.com/andrewmoise/rssbot/database"
	"github.com/andrewmoise/rssbot/icons"
	"github.com/andrewmoise/rssbot/lemmy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

var (
	noAppointMod      = flag.Bool("no-appoint-mod", false, "do not appoint the additional moderators after creating the community")
	noCreateCommunity = flag.Bool("no-create-community", false, "do not create the community; look up its ID instead")
	noDatabaseEntry   = flag.Bool("no-database-entry", false, "do not record the feed in the database")
	identityFlag      = flag.String("identity", string(config.IdentityFree), "bot identity that will publish this feed")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] list | add <feed_url> <community> | delete <feed_url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}

	switch flag.Arg(0) {
	case "list":
		listFeeds(db)
	case "add":
		if flag.NArg() != 3 {
			flag.Usage()
			os.Exit(2)
		}
		addFeed(cfg, db, flag.Arg(1), flag.Arg(2))
	case "delete":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		deleteFeed(db, flag.Arg(1))
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func listFeeds(db *database.RSSDB) {
	allFeeds, err := db.ListFeeds()
	if err != nil {
		log.WithError(err).Fatal("Failed to list feeds")
	}
	for _, feed := range allFeeds {
		fmt.Printf("Community: %s, RSS URL: %s\n", feed.CommunityKey, feed.FeedURL)
	}
}

func addFeed(cfg *config.Config, db *database.RSSDB, feedURL, communityName string) {
	identity, err := config.ParseIdentity(*identityFlag)
	if err != nil {
		log.WithError(err).Fatal("Invalid -identity")
	}

	fp := gofeed.NewParser()
	fp.UserAgent = "Lemmy RSSBot"
	fp.Client = &http.Client{Timeout: 30 * time.Second}
	feed, err := fp.ParseURL(feedURL)
	if err != nil || len(feed.Items) == 0 {
		log.WithError(err).Fatalf("%s does not appear to be a valid RSS feed", feedURL)
	}

	title := feed.Title
	if title == "" {
		title = communityName
	}
	var defaultIcon string
	if feed.Image != nil {
		defaultIcon = feed.Image.URL
	}

	icon := defaultIcon
	if siteURL := websiteURL(feedURL); siteURL != "" {
		log.WithField("website_url", siteURL).Info("Scanning site for icons")
		if best, err := icons.Discover(siteURL); err != nil {
			log.WithError(err).Warn("Icon discovery failed; using feed's own image")
		} else if best != "" {
			icon = best
		}
	}

	cli, err := clients.New(cfg, ".").Client(identity)
	if err != nil {
		log.WithError(err).Fatal("Failed to log in")
	}

	var communityID int64
	if *noCreateCommunity {
		if communityID, err = cli.FetchCommunityID(communityName); err != nil {
			log.WithError(err).Fatal("Failed to look up community")
		}
	} else {
		communityID, err = cli.CreateCommunity(lemmy.CreateCommunityOptions{
			Name:                    communityName,
			Title:                   title,
			Description:             feed.Description,
			Icon:                    icon,
			PostingRestrictedToMods: true,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to create community")
		}
		log.WithFields(log.Fields{
			"community":    communityName,
			"community_id": communityID,
		}).Info("Created community")
	}

	if !*noAppointMod {
		for _, mod := range cfg.AdditionalMods {
			personID, err := cli.FetchUserID(mod)
			if err != nil {
				log.WithError(err).WithField("mod", mod).Error("Failed to look up moderator")
				continue
			}
			if err := cli.AppointMod(communityID, personID, true); err != nil {
				log.WithError(err).WithField("mod", mod).Error("Failed to appoint moderator")
			}
		}
		if err := cli.SubscribeToCommunity(communityID, true); err != nil {
			log.WithError(err).Error("Failed to subscribe to community")
		}
	}

	if !*noDatabaseEntry {
		key := communityName
		if !strings.Contains(key, "@") {
			key = key + "@" + cfg.Server
		}
		if _, err := db.AddFeed(feedURL, key, communityID, string(identity)); err != nil {
			log.WithError(err).Fatal("Failed to record feed")
		}
		log.WithFields(log.Fields{
			"feed_url":     feedURL,
			"community":    key,
			"community_id": communityID,
		}).Info("Added feed")
	}
}

func deleteFeed(db *database.RSSDB, feedURL string) {
	deleted, err := db.RemoveFeed("", feedURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to delete feed")
	}
	fmt.Printf("Deleted %d feed(s) matching %s\n", deleted, feedURL)
}

// websiteURL reduces a feed URL to its site root on the registrable domain,
// e.g. https://feeds.example.com/rss -> https://example.com.
func websiteURL(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return ""
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	return u.Scheme + "://" + strings.Join(labels, ".")
}
