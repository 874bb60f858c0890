// Package icons discovers a community icon for a site: it scrapes the
// site's <link rel=icon> declarations and picks the best candidate by
// decoded image dimensions.
package icons

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/die-net/lrucache"
	"github.com/gregjones/httpcache"
	log "github.com/sirupsen/logrus"
)

// minIconDimension is the smallest edge an icon needs before it is
// considered high resolution.
const minIconDimension = 150

var cachingClient *http.Client

type userAgentRoundTripper struct {
	Transport http.RoundTripper
}

func (rt userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Lemmy RSSBot")
	return rt.Transport.RoundTrip(req)
}

func init() {
	lruCache := lrucache.New(1024*1024*20, 0) // 20 MB cache, no max-age
	cachingClient = &http.Client{
		Transport: userAgentRoundTripper{httpcache.NewTransport(lruCache)},
	}
}

// Discover scrapes siteURL for icon links and returns the URL of the best
// one, or "" when the page declares none that can be fetched.
func Discover(siteURL string) (string, error) {
	candidates, err := fetchIconURLs(siteURL)
	if err != nil {
		return "", err
	}
	return BestIcon(candidates), nil
}

// fetchIconURLs lists every icon URL the page's head declares, resolved
// against the page URL.
func fetchIconURLs(siteURL string) ([]string, error) {
	res, err := cachingClient.Get(siteURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("icons: GET %s returned HTTP %d", siteURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, err
	}

	var icons []string
	doc.Find("link[rel]").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "icon") {
			return
		}
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		icons = append(icons, base.ResolveReference(ref).String())
	})
	return icons, nil
}

// BestIcon picks the candidate with the smallest dimensions that still
// clears minIconDimension on both edges, which favors crisp icons without
// wasting bandwidth on banner-sized art. When nothing clears the bar the
// largest icon by area wins. Candidates that fail to download or decode
// are skipped.
func BestIcon(candidates []string) string {
	var best string
	var bestScore int

	for _, iconURL := range candidates {
		width, height, err := imageDimensions(iconURL)
		if err != nil {
			log.WithError(err).WithField("icon_url", iconURL).Debug("Skipping icon candidate")
			continue
		}
		if width >= minIconDimension && height >= minIconDimension {
			minDim := width
			if height < width {
				minDim = height
			}
			if best == "" || minDim < bestScore {
				best = iconURL
				bestScore = minDim
			}
		} else if width*height > bestScore {
			best = iconURL
			bestScore = width * height
		}
	}
	return best
}

// imageDimensions downloads just enough of the image to read its header.
func imageDimensions(imageURL string) (width, height int, err error) {
	res, err := cachingClient.Get(imageURL)
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return 0, 0, fmt.Errorf("icons: GET %s returned HTTP %d", imageURL, res.StatusCode)
	}
	cfg, _, err := image.DecodeConfig(res.Body)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
