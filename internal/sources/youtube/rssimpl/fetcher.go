package rssimpl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/retry"
	"github.com/bakkerme/channelwatch/internal/sources/youtube"
	"github.com/mmcdole/gofeed"
)

const defaultFeedBaseURL = "https://www.youtube.com/feeds/videos.xml"

// Fetcher reads a channel's public Atom feed instead of the Data API. No
// credentials are involved, so it never reports an unauthorized failure.
// Feed entries are newest-first, matching the uploads playlist ordering.
type Fetcher struct {
	parser  *gofeed.Parser
	baseURL string
}

func NewFetcher(timeout time.Duration, userAgent, baseURL string) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "channelwatch/0.1"
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultFeedBaseURL
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = userAgent
	return &Fetcher{parser: parser, baseURL: baseURL}
}

func (f *Fetcher) FetchLatest(ctx context.Context, channelID string) (core.LatestItem, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorNotFound,
			SourceID: channelID,
			Err:      fmt.Errorf("channel id is required"),
		}
	}

	feedURL := f.baseURL + "?channel_id=" + channelID
	var (
		feed       *gofeed.Feed
		lastStatus int
	)
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if errors.As(err, &httpErr) &&
				httpErr.StatusCode != http.StatusTooManyRequests &&
				httpErr.StatusCode < http.StatusInternalServerError {
				// Classified after the loop; no point retrying a 4xx.
				lastStatus = httpErr.StatusCode
				return nil
			}
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return core.LatestItem{}, &youtube.FetchError{Kind: youtube.ErrorTransient, SourceID: channelID, Err: err}
	}
	if lastStatus != 0 {
		kind := youtube.ErrorTransient
		// YouTube serves 404 for unknown channel IDs on the feed endpoint.
		if lastStatus == http.StatusNotFound {
			kind = youtube.ErrorNotFound
		}
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     kind,
			SourceID: channelID,
			Err:      fmt.Errorf("feed request failed with status %d", lastStatus),
		}
	}
	if len(feed.Items) == 0 {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorNoItems,
			SourceID: channelID,
			Err:      fmt.Errorf("channel feed is empty"),
		}
	}

	entry := feed.Items[0]
	item := core.LatestItem{
		ItemID: videoIDFromEntry(entry),
		Title:  entry.Title,
	}
	if item.ItemID == "" {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorTransient,
			SourceID: channelID,
			Err:      fmt.Errorf("feed entry is missing a video id"),
		}
	}
	item.URL = youtube.WatchURL(item.ItemID)
	if entry.PublishedParsed != nil {
		item.PublishedAt = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		item.PublishedAt = *entry.UpdatedParsed
	}
	return item, nil
}

// videoIDFromEntry extracts the video ID from a feed entry. YouTube feed
// entry GUIDs look like "yt:video:dQw4w9WgXcQ".
func videoIDFromEntry(entry *gofeed.Item) string {
	if id, ok := strings.CutPrefix(entry.GUID, "yt:video:"); ok {
		return id
	}
	if entry.Extensions != nil {
		if yt, ok := entry.Extensions["yt"]; ok {
			if ids, ok := yt["videoId"]; ok && len(ids) > 0 {
				return ids[0].Value
			}
		}
	}
	return ""
}
