// Package core assembles the long-lived components of the terminal into
// one explicitly constructed container. There is no package-level
// singleton: callers build a Context and pass it down.
package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/atm"
	"xts-terminal/internal/candle"
	"xts-terminal/internal/config"
	"xts-terminal/internal/feed"
	"xts-terminal/internal/history"
	"xts-terminal/internal/livestore"
	"xts-terminal/internal/masterload"
	"xts-terminal/internal/models"
	"xts-terminal/internal/repository"
	"xts-terminal/internal/stream"
	"xts-terminal/pkg/utils"
)

// Context owns every long-lived component and the wiring between them.
type Context struct {
	Config *config.Config
	Log    zerolog.Logger

	Repo    *repository.Manager
	Stores  map[models.Segment]*livestore.Store
	Indexes *livestore.IndexRegistry

	History    *history.Store
	Aggregator *candle.Aggregator
	Hub        *stream.Hub
	ATM        *atm.WatchManager
	LoadState  *masterload.DataState
	Loader     *masterload.Worker
	Feed       *feed.Client
}

// New builds the component graph: repositories, per-segment live stores,
// the history store, the candle aggregator, the tick hub with its
// consumers, the ATM watch manager, and the master loader. The broadcast
// feed client is created but not connected.
func New(cfg *config.Config, log zerolog.Logger) (*Context, error) {
	c := &Context{
		Config:  cfg,
		Log:     log,
		Repo:    repository.NewManager(log),
		Indexes: livestore.NewIndexRegistry(),
	}

	c.Stores = map[models.Segment]*livestore.Store{
		models.SegmentNSECM: livestore.NewStore(models.SegmentNSECM, 0),
		models.SegmentNSEFO: livestore.NewStore(models.SegmentNSEFO, 0),
		models.SegmentBSECM: livestore.NewStore(models.SegmentBSECM, 0),
		models.SegmentBSEFO: livestore.NewStore(models.SegmentBSEFO, 0),
	}

	hist, err := history.NewStore(cfg.History.Path, log)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	c.History = hist

	if cfg.History.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
		if n, err := hist.DeleteOldCandles(context.Background(), cutoff); err != nil {
			log.Warn().Err(err).Msg("history retention purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("purged old candles")
		}
	}

	c.Aggregator = candle.NewAggregator(hist, log)

	c.ATM = atm.NewWatchManager(
		c.Repo,
		c.Stores[models.SegmentNSECM],
		c.Stores[models.SegmentNSEFO],
		c.Indexes,
		log,
	)

	c.Hub = stream.NewHub(log)
	c.Hub.RegisterConsumer(stream.ConsumerFunc(c.routeTick))

	c.LoadState = masterload.NewDataState(log)
	c.Loader = masterload.NewWorker(c.Repo, c.LoadState, log)
	c.LoadState.OnMastersReady(func(count int) {
		c.initLiveStores()
		c.ATM.MastersReady(count)
	})

	c.Feed = feed.NewClient(feed.ClientConfig{
		URL:        cfg.Feed.URL,
		Token:      cfg.Feed.Token,
		MaxRetries: cfg.Feed.MaxRetries,
		BaseDelay:  cfg.Feed.BaseDelay,
	}, log)
	c.Feed.OnTick(c.Hub.Publish)

	return c, nil
}

// routeTick is the hub consumer behind every tick: live store first so
// snapshot readers see the update, then the candle builders, then the ATM
// trigger.
func (c *Context) routeTick(tick models.Tick) {
	if seg, ok := models.SegmentFromID(tick.ExchangeSegment); ok {
		if store, ok := c.Stores[seg]; ok {
			store.ApplyTick(tick)
		}
	}
	c.Aggregator.OnTick(tick)
	c.ATM.OnTick(tick)
}

// initLiveStores seeds the static slot fields from the freshly loaded
// catalog.
func (c *Context) initLiveStores() {
	for seg, store := range c.Stores {
		repo := c.Repo.Repo(seg)
		if repo == nil || !repo.IsLoaded() {
			continue
		}
		n := store.InitializeFromMaster(repo.ForEachContract)
		c.Log.Debug().Str("segment", string(seg)).Int("slots", n).Msg("live store initialized")
	}
}

// Store returns the live store for an XTS segment id, or nil.
func (c *Context) Store(segmentID int) *livestore.Store {
	seg, ok := models.SegmentFromID(segmentID)
	if !ok {
		return nil
	}
	return c.Stores[seg]
}

// Start runs the background goroutines: hub broadcast, candle completion
// timer, ATM backup timer. The feed is connected separately because
// offline commands never need it.
func (c *Context) Start(ctx context.Context) {
	c.Hub.Start(ctx)
	c.Aggregator.Start(ctx)
	c.ATM.Start(ctx)
}

// ConnectFeed dials the broadcast feed and starts its read loop.
func (c *Context) ConnectFeed(ctx context.Context) error {
	if c.Config.Feed.URL == "" {
		return fmt.Errorf("feed url not configured")
	}
	return c.Feed.Connect(ctx)
}

// DownloadMasters fetches the combined master contract file, retrying
// transient failures with backoff.
func (c *Context) DownloadMasters(ctx context.Context) ([]byte, error) {
	url := c.Config.Masters.DownloadURL
	if url == "" {
		return nil, fmt.Errorf("masters download url not configured")
	}
	return utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("downloading masters: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("masters download: unexpected status %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading masters body: %w", err)
		}
		return data, nil
	})
}

// Close flushes open candles and releases every component. Safe to call
// once after Start.
func (c *Context) Close() error {
	_ = c.Feed.Disconnect()
	c.ATM.Stop()
	c.Aggregator.Stop()
	c.Aggregator.CompletePending()
	c.Hub.Stop()
	if c.History != nil {
		return c.History.Close()
	}
	return nil
}
