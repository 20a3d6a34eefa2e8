package mock

import (
	"context"

	"github.com/bakkerme/channelwatch/internal/core"
)

type Fetcher struct {
	ItemsByChannel map[string]core.LatestItem
	ErrByChannel   map[string]error
	Fetched        []string
}

func (f *Fetcher) FetchLatest(ctx context.Context, channelID string) (core.LatestItem, error) {
	_ = ctx
	f.Fetched = append(f.Fetched, channelID)
	if f.ErrByChannel != nil {
		if err, ok := f.ErrByChannel[channelID]; ok {
			return core.LatestItem{}, err
		}
	}
	return f.ItemsByChannel[channelID], nil
}
