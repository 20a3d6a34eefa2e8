package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/retry"
	"github.com/bakkerme/channelwatch/internal/sources/youtube"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Fetcher queries the YouTube Data API v3. Resolution is two-step: look up
// the channel's uploads playlist, then ask that playlist for its single most
// recent entry. The API returns playlist items newest-first for uploads
// playlists, so maxResults=1 is sufficient.
type Fetcher struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	userAgent   string
	maxBodySize int64
}

func NewFetcher(timeout time.Duration, userAgent, baseURL, apiKey string) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "channelwatch/0.1"
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     strings.TrimRight(baseURL, "/"),
		userAgent:   userAgent,
		maxBodySize: 1 << 20, // 1 MiB
	}
}

type channelListResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	Items []struct {
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
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
	if f.apiKey == "" {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorUnauthorized,
			SourceID: channelID,
			Err:      fmt.Errorf("missing api key (set YOUTUBE_API_KEY)"),
		}
	}

	uploads, err := f.uploadsPlaylistID(ctx, channelID)
	if err != nil {
		return core.LatestItem{}, err
	}
	return f.latestPlaylistItem(ctx, channelID, uploads)
}

func (f *Fetcher) uploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	query := url.Values{}
	query.Set("part", "contentDetails")
	query.Set("id", channelID)

	var payload channelListResponse
	if err := f.getJSON(ctx, channelID, "/channels", query, &payload); err != nil {
		return "", err
	}
	if len(payload.Items) == 0 {
		return "", &youtube.FetchError{
			Kind:     youtube.ErrorNotFound,
			SourceID: channelID,
			Err:      fmt.Errorf("channel not known to the api"),
		}
	}
	uploads := payload.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return "", &youtube.FetchError{
			Kind:     youtube.ErrorNoItems,
			SourceID: channelID,
			Err:      fmt.Errorf("channel has no uploads playlist"),
		}
	}
	return uploads, nil
}

func (f *Fetcher) latestPlaylistItem(ctx context.Context, channelID, playlistID string) (core.LatestItem, error) {
	query := url.Values{}
	query.Set("part", "snippet")
	query.Set("playlistId", playlistID)
	query.Set("maxResults", "1")

	var payload playlistItemsResponse
	if err := f.getJSON(ctx, channelID, "/playlistItems", query, &payload); err != nil {
		return core.LatestItem{}, err
	}
	if len(payload.Items) == 0 {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorNoItems,
			SourceID: channelID,
			Err:      fmt.Errorf("uploads playlist is empty"),
		}
	}

	snippet := payload.Items[0].Snippet
	item := core.LatestItem{
		ItemID: snippet.ResourceID.VideoID,
		Title:  snippet.Title,
		URL:    youtube.WatchURL(snippet.ResourceID.VideoID),
	}
	if snippet.PublishedAt != "" {
		if published, err := time.Parse(time.RFC3339, snippet.PublishedAt); err == nil {
			item.PublishedAt = published
		}
	}
	if item.ItemID == "" {
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorTransient,
			SourceID: channelID,
			Err:      fmt.Errorf("playlist item is missing a video id"),
		}
	}
	return item, nil
}

// getJSON performs one API call with retry on transient failures. Non-2xx
// statuses that are not retryable are classified afterwards so an auth
// rejection is not hammered three times.
func (f *Fetcher) getJSON(ctx context.Context, channelID, path string, query url.Values, out any) error {
	var (
		lastStatus int
		respBody   []byte
	)
	query.Set("key", f.apiKey)
	endpoint := f.baseURL + path + "?" + query.Encode()

	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		limited := io.LimitReader(resp.Body, f.maxBodySize+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			return err
		}
		if int64(len(body)) > f.maxBodySize {
			return fmt.Errorf("youtube: response too large")
		}

		lastStatus = resp.StatusCode
		respBody = body

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("youtube transient error: %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		return &youtube.FetchError{Kind: youtube.ErrorTransient, SourceID: channelID, Err: err}
	}

	switch {
	case lastStatus == http.StatusUnauthorized || lastStatus == http.StatusForbidden:
		return &youtube.FetchError{
			Kind:     youtube.ErrorUnauthorized,
			SourceID: channelID,
			Err:      fmt.Errorf("status %d: %s", lastStatus, apiErrorMessage(respBody)),
		}
	case lastStatus == http.StatusNotFound:
		return &youtube.FetchError{
			Kind:     youtube.ErrorNotFound,
			SourceID: channelID,
			Err:      fmt.Errorf("status %d: %s", lastStatus, apiErrorMessage(respBody)),
		}
	case lastStatus < 200 || lastStatus >= 300:
		return &youtube.FetchError{
			Kind:     youtube.ErrorTransient,
			SourceID: channelID,
			Err:      fmt.Errorf("status %d: %s", lastStatus, apiErrorMessage(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &youtube.FetchError{
			Kind:     youtube.ErrorTransient,
			SourceID: channelID,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

// apiErrorMessage pulls the human-readable message out of a Data API error
// payload, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
