package feed

import (
	"context"
	"errors"

	"github.com/krobus00/market-stream/internal/entity"
	"github.com/sirupsen/logrus"
)

// FallbackLoader uses Fallback when Primary fails or yields no feeds.
type FallbackLoader struct {
	Primary  entity.FeedLoader
	Fallback entity.FeedLoader
}

func (l *FallbackLoader) LoadFeeds(ctx context.Context) ([]entity.SymbolFeed, error) {
	feeds, err := l.Primary.LoadFeeds(ctx)
	if err == nil && len(feeds) > 0 {
		return feeds, nil
	}
	if l.Fallback == nil {
		return feeds, err
	}

	logrus.WithError(err).WithField("feeds", len(feeds)).Warn("primary feed source unusable, falling back")

	fallbackFeeds, fallbackErr := l.Fallback.LoadFeeds(ctx)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return fallbackFeeds, nil
}
