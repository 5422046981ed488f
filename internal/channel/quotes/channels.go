package quotes

import (
	"context"
	"sync"

	"optionflow/logger"
	"optionflow/models"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels carries quote updates from the source readers into a single
// aggregation loop. Sends never block: when the buffer is full the update is
// dropped and counted, since a newer update for the same source supersedes it.
type Channels struct {
	Updates chan models.QuoteUpdate

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	c := &Channels{
		Updates: make(chan models.QuoteUpdate, bufferSize),
		log:     logger.GetLogger(),
	}

	c.log.WithComponent("quote_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Debug("quote channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Updates)
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.Dropped++
	c.statsMutex.Unlock()
}

func (c *Channels) Send(ctx context.Context, msg models.QuoteUpdate) bool {
	select {
	case c.Updates <- msg:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
