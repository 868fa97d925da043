package depth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/book"
	"github.com/s4nngr10r/rtdppo/internal/codec"
	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// ErrFatalSession is returned by Ingest when the book invariant was
// violated and the caller must reconnect and re-snapshot.
var ErrFatalSession = errors.New("depth: session invariant violated, reconnect and re-snapshot")

// Publisher sends an encoded feature frame downstream. Implementations must
// not block the book's owning goroutine for long: the book must not be
// observed mid-mutation from outside.
type Publisher interface {
	PublishFrame(ctx context.Context, payload []byte) error
}

// Engine owns the book and turns inbound exchange messages into published
// feature frames. It is single-owner: Ingest must only be called from one
// goroutine.
type Engine struct {
	book   *book.Book
	pub    Publisher
	logger zerolog.Logger
}

// New creates an Engine with an empty book.
func New(pub Publisher, logger zerolog.Logger) *Engine {
	return &Engine{
		book:   book.New(),
		pub:    pub,
		logger: logger,
	}
}

// Ingest processes one raw exchange message: malformed JSON is dropped and
// logged (not fatal); a level-count violation is fatal and the caller must
// reconnect with a fresh snapshot.
func (e *Engine) Ingest(ctx context.Context, raw []byte) error {
	action, bids, asks, err := parseInbound(raw)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("malformed_json").Inc()
		e.logger.Warn().Err(err).Msg("dropping malformed depth frame")
		return nil
	}

	switch action {
	case "snapshot":
		if err := e.book.ApplySnapshot(toBookLevels(bids), toBookLevels(asks)); err != nil {
			metrics.FramesDropped.WithLabelValues("level_count").Inc()
			e.logger.Error().Err(err).Msg("snapshot violated level-count invariant")
			return ErrFatalSession
		}
	case "update":
		deltas := make([]book.DeltaLevel, 0, len(bids)+len(asks))
		for _, u := range bids {
			deltas = append(deltas, book.DeltaLevel{Side: types.Buy, Price: u.Price, Volume: u.Volume, OrderCount: u.OrderCount})
		}
		for _, u := range asks {
			deltas = append(deltas, book.DeltaLevel{Side: types.Sell, Price: u.Price, Volume: u.Volume, OrderCount: u.OrderCount})
		}
		if err := e.book.ApplyDelta(deltas); err != nil {
			metrics.FramesDropped.WithLabelValues("level_count").Inc()
			e.logger.Error().Err(err).Msg("update violated level-count invariant")
			return ErrFatalSession
		}
	default:
		metrics.FramesDropped.WithLabelValues("unknown_action").Inc()
		e.logger.Warn().Str("action", action).Msg("dropping frame with unrecognised action")
		return nil
	}

	frame := e.book.BuildFrame()
	metrics.BookSequenceID.Set(float64(frame.SequenceID))

	payload, err := codec.EncodeFeatureFrame(frame)
	if err != nil {
		// mid out of the encodable range is an invariant violation on encode,
		// but it does not corrupt the book: log and continue.
		e.logger.Error().Err(err).Msg("failed to encode feature frame")
		return nil
	}

	if err := e.pub.PublishFrame(ctx, payload); err != nil {
		e.logger.Warn().Err(err).Msg("publish failed; book unaffected")
		return nil
	}
	metrics.FramesEmitted.Inc()
	return nil
}
