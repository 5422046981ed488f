// Package rfq maintains the websocket session with the RFQ relay, fanning
// inbound signed quotes out to per-instrument subscriptions and publishing
// quotes back to the relay.
package rfq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/logger"
	"optionflow/models"
)

// Reader streams RFQ quotes from the relay.
type Reader struct {
	config  *appconfig.Config
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.RWMutex
	subs   map[string]*subscription
}

type subscription struct {
	id     string
	filter models.QuoteFilter
	out    *quotes.Channels
}

func NewReader(cfg *appconfig.Config) *Reader {
	return &Reader{
		config: cfg,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
		subs:   make(map[string]*subscription),
	}
}

// Start connects to the relay and begins dispatching quotes. The session
// reconnects and resubscribes on failure until the context is cancelled.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("rfq reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("rfq_reader").WithFields(logger.Fields{"operation": "Start"})

	if !r.config.Sources.RFQ.Enabled {
		log.Warn("rfq source is disabled")
		return fmt.Errorf("rfq source is disabled")
	}

	log.WithFields(logger.Fields{"url": r.config.Relay.URL}).Info("starting rfq reader")

	r.wg.Add(1)
	go r.run()

	log.Info("rfq reader started successfully")
	return nil
}

// Stop terminates the relay session and waits for the read loop to exit.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("rfq_reader").Info("stopping rfq reader")
	r.closeConn()
	r.wg.Wait()
	r.log.WithComponent("rfq_reader").Info("rfq reader stopped")
}

// Subscribe registers a per-instrument quote feed and announces the filter to
// the relay. The returned function tears the relay channel down; delivery
// through out stops once it returns, though teardown on the relay side is
// best-effort.
func (r *Reader) Subscribe(filter models.QuoteFilter, out *quotes.Channels) (func(), error) {
	sub := &subscription{
		id:     uuid.New().String(),
		filter: filter,
		out:    out,
	}

	r.subsMu.Lock()
	r.subs[sub.id] = sub
	r.subsMu.Unlock()

	if err := r.writeJSON(r.filterMessage(filter)); err != nil {
		// The resubscribe pass after reconnect will announce the filter.
		r.log.WithComponent("rfq_reader").WithError(err).Warn("failed to send filter, will retry on reconnect")
	}

	// A taker-identified subscription also solicits counterparty quotes.
	if filter.Taker != (common.Address{}) && filter.Size != nil {
		if err := r.RequestQuotes(filter); err != nil {
			r.log.WithComponent("rfq_reader").WithError(err).Debug("failed to broadcast rfq solicitation")
		}
	}

	unsub := func() {
		r.subsMu.Lock()
		delete(r.subs, sub.id)
		remaining := len(r.subs)
		r.subsMu.Unlock()

		if remaining == 0 {
			if err := r.writeJSON(models.UnsubscribeMessage{
				Type:    models.TypeUnsubscribe,
				Channel: models.ChannelQuotes,
			}); err != nil {
				r.log.WithComponent("rfq_reader").WithError(err).Debug("failed to send unsubscribe")
			}
		}
	}
	return unsub, nil
}

// PostQuote publishes a signed quote to the relay.
func (r *Reader) PostQuote(q *models.SignedQuote) error {
	if err := r.writeJSON(models.PostQuoteMessage{Type: models.TypePostQuote, Body: q.ToJSON()}); err != nil {
		return err
	}
	logger.IncrementQuotePost(1)
	return nil
}

// DeleteQuote withdraws a previously published quote.
func (r *Reader) DeleteQuote(q *models.SignedQuote) error {
	return r.writeJSON(models.DeleteQuoteMessage{Type: models.TypeDeleteQuote, Body: q.ToJSON()})
}

// RequestQuotes broadcasts an RFQ solicitation for the filter's instrument.
func (r *Reader) RequestQuotes(filter models.QuoteFilter) error {
	msg := models.RFQMessage{
		Type:    models.TypeRFQ,
		PoolKey: filter.PoolKey.ToJSON(),
		Side:    filter.Side,
		ChainID: chainIDString(filter),
		Taker:   filter.Taker.Hex(),
	}
	if filter.Size != nil {
		msg.Size = filter.Size.String()
	}
	return r.writeJSON(msg)
}

func (r *Reader) filterMessage(filter models.QuoteFilter) models.FilterMessage {
	key := filter.PoolKey.ToJSON()
	msg := models.FilterMessage{
		Type:    models.TypeFilter,
		Channel: models.ChannelQuotes,
		PoolKey: &key,
		Side:    filter.Side,
		ChainID: chainIDString(filter),
	}
	if filter.PoolAddress != (common.Address{}) {
		msg.PoolAddress = filter.PoolAddress.Hex()
	}
	if filter.Size != nil {
		msg.Size = filter.Size.String()
	}
	if filter.Taker != (common.Address{}) {
		msg.Taker = filter.Taker.Hex()
	}
	return msg
}

func chainIDString(filter models.QuoteFilter) string {
	if filter.ChainID != nil {
		return filter.ChainID.String()
	}
	return ""
}

func (r *Reader) run() {
	defer r.wg.Done()

	log := r.log.WithComponent("rfq_reader").WithFields(logger.Fields{"worker": "relay_session"})
	reconnectDelay := r.config.Relay.ReconnectDelay

	for {
		if r.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: r.config.Relay.HandshakeTimeout}
		conn, _, err := dialer.DialContext(r.ctx, r.config.Relay.URL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to relay")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		r.connMu.Lock()
		r.conn = conn
		r.connMu.Unlock()

		log.Info("connected to relay")
		r.resubscribe(log)

		r.readLoop(conn, log)

		r.connMu.Lock()
		r.conn = nil
		r.connMu.Unlock()
		conn.Close()

		if r.ctx.Err() != nil {
			return
		}
		log.Warn("relay websocket disconnected, reconnecting")
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Reader) resubscribe(log *logger.Entry) {
	r.subsMu.RLock()
	filters := make([]models.QuoteFilter, 0, len(r.subs))
	for _, sub := range r.subs {
		filters = append(filters, sub.filter)
	}
	r.subsMu.RUnlock()

	for _, f := range filters {
		if err := r.writeJSON(r.filterMessage(f)); err != nil {
			log.WithError(err).Warn("failed to resubscribe filter")
		}
	}
	if len(filters) > 0 {
		log.WithFields(logger.Fields{"filters": len(filters)}).Info("resubscribed relay filters")
	}
}

func (r *Reader) readLoop(conn *websocket.Conn, log *logger.Entry) {
	for {
		if r.ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("relay read failed")
			}
			return
		}

		var envelope models.RelayMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.WithError(err).Warn("failed to decode relay message")
			continue
		}

		switch envelope.Type {
		case models.TypePostQuote:
			r.dispatch(envelope.Body, false, log, len(data))
		case models.TypeDeleteQuote:
			r.dispatch(envelope.Body, true, log, len(data))
		case models.TypeInfo:
			log.WithFields(logger.Fields{"message": envelope.Message}).Debug("relay info")
		case models.TypeError:
			log.WithFields(logger.Fields{"message": envelope.Message}).Warn("relay error")
		}
	}
}

func (r *Reader) dispatch(body json.RawMessage, deleted bool, log *logger.Entry, size int) {
	var wire models.QuoteJSON
	if err := json.Unmarshal(body, &wire); err != nil {
		log.WithError(err).Warn("failed to decode relay quote")
		return
	}
	signed, err := wire.ToSignedQuote()
	if err != nil {
		log.WithError(err).Warn("failed to parse relay quote")
		return
	}

	createdAt := wire.Ts
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	r.subsMu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if r.matches(sub.filter, signed) {
			subs = append(subs, sub)
		}
	}
	r.subsMu.RUnlock()

	for _, sub := range subs {
		update := models.QuoteUpdate{
			Origin:    models.OriginRFQ,
			PoolKey:   signed.PoolKey,
			Timestamp: time.Now(),
		}
		if !deleted {
			update.Quote = &models.SourcedQuote{
				SignedQuote: *signed,
				Origin:      models.OriginRFQ,
				CreatedAt:   createdAt,
			}
		}

		if sub.out.Send(r.ctx, update) {
			logger.IncrementRFQRead(size)
			continue
		}
		if r.ctx.Err() != nil {
			return
		}
		log.Warn("quote update channel full, dropping message")
	}
}

func (r *Reader) matches(filter models.QuoteFilter, q *models.SignedQuote) bool {
	if !filter.PoolKey.Equal(q.PoolKey) {
		return false
	}
	if q.IsBuy != filter.Side.IsBuy() {
		return false
	}
	if filter.ChainID != nil && q.ChainID != nil && filter.ChainID.Cmp(q.ChainID) != 0 {
		return false
	}
	if q.Taker != (common.Address{}) && filter.Taker != (common.Address{}) && q.Taker != filter.Taker {
		return false
	}
	return true
}

func (r *Reader) writeJSON(v interface{}) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("relay connection not established")
	}
	return r.conn.WriteJSON(v)
}

func (r *Reader) closeConn() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}
