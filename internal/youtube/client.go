package youtube

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/techtube/internal/models"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

// Query describes one paginated search: a keyword text or a channel external id.
type Query struct {
	Kind models.SourceKind
	Ref  string
}

func (q Query) String() string {
	return string(q.Kind) + ":" + q.Ref
}

// Item is one raw search result.
type Item struct {
	ExternalID  string
	ChannelID   string
	Title       string
	Description string
	PublishedAt time.Time
	Tags        []string
}

// LiveStatus is reported for channel queries.
type LiveStatus struct {
	IsLive  bool
	VideoID string
}

// Page is one page of search results.
type Page struct {
	Items         []Item
	NextPageToken string
	Live          *LiveStatus // channel queries only
}

// Searcher fetches one page of results for a query, most recent first.
type Searcher interface {
	Search(ctx context.Context, q Query, pageToken string) (*Page, error)
}

// ChannelInfo is the resolved metadata of a channel.
type ChannelInfo struct {
	ID    string
	Title string
}

// Client implements Searcher on the YouTube Data API v3.
type Client struct {
	svc      *ytapi.Service
	pageSize int64
	timeout  time.Duration
	log      zerolog.Logger
}

// NewClient creates a YouTube Data API client. pageSize is capped at 50 by the API.
func NewClient(ctx context.Context, apiKey string, pageSize int, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube: API key is required")
	}
	httpClient := &http.Client{Timeout: timeout}
	svc, err := ytapi.NewService(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("youtube.NewService: %w", err)
	}
	return &Client{
		svc:      svc,
		pageSize: int64(min(max(pageSize, 1), 50)),
		timeout:  timeout,
		log:      logger.With().Str("component", "youtube").Logger(),
	}, nil
}

// Search runs search.list for the query and one batched videos.list to fill in tags.
func (c *Client) Search(ctx context.Context, q Query, pageToken string) (*Page, error) {
	call := c.svc.Search.List([]string{"snippet"}).
		Type("video").
		Order("date").
		MaxResults(c.pageSize)
	switch q.Kind {
	case models.SourceKindChannel:
		call = call.ChannelId(q.Ref)
	default:
		call = call.Q(q.Ref)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, Classify(err)
	}

	page := &Page{NextPageToken: resp.NextPageToken}
	if q.Kind == models.SourceKindChannel {
		page.Live = &LiveStatus{}
	}
	var ids []string
	for _, r := range resp.Items {
		if r.Id == nil || r.Id.VideoId == "" || r.Snippet == nil {
			continue
		}
		published, _ := time.Parse(time.RFC3339, r.Snippet.PublishedAt)
		page.Items = append(page.Items, Item{
			ExternalID:  r.Id.VideoId,
			ChannelID:   r.Snippet.ChannelId,
			Title:       r.Snippet.Title,
			Description: r.Snippet.Description,
			PublishedAt: published,
		})
		ids = append(ids, r.Id.VideoId)
		if page.Live != nil && !page.Live.IsLive && r.Snippet.LiveBroadcastContent == "live" {
			page.Live = &LiveStatus{IsLive: true, VideoID: r.Id.VideoId}
		}
	}
	if len(ids) == 0 {
		return page, nil
	}

	tags, err := c.videoTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		page.Items[i].Tags = tags[page.Items[i].ExternalID]
	}
	c.log.Debug().Str("query", q.String()).Int("items", len(page.Items)).Bool("more", page.NextPageToken != "").Msg("page fetched")
	return page, nil
}

// videoTags returns snippet tags keyed by video id.
func (c *Client) videoTags(ctx context.Context, ids []string) (map[string][]string, error) {
	resp, err := c.svc.Videos.List([]string{"snippet"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, Classify(err)
	}
	out := make(map[string][]string, len(resp.Items))
	for _, v := range resp.Items {
		if v.Snippet != nil {
			out[v.Id] = v.Snippet.Tags
		}
	}
	return out, nil
}

// LookupChannel resolves a channel id (UC...) or handle (@name) to its metadata.
// Returns ErrInvalidReference when nothing matches.
func (c *Client) LookupChannel(ctx context.Context, ref string) (*ChannelInfo, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidReference
	}
	call := c.svc.Channels.List([]string{"snippet"})
	if strings.HasPrefix(ref, "@") {
		call = call.ForHandle(ref)
	} else {
		call = call.Id(ref)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, fmt.Errorf("%w: channel %s", ErrInvalidReference, ref)
	}
	item := resp.Items[0]
	return &ChannelInfo{ID: item.Id, Title: item.Snippet.Title}, nil
}
