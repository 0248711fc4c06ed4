// Package relay forwards an upstream chat stream to the client while billing
// the turn and persisting generated images.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snowgoose-backend/internal/adapters"
	"snowgoose-backend/internal/metrics"
	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/storage"
)

var (
	// ErrCreditRatioMissing means a turn has a cost but no dollars-per-credit
	// ratio is configured to convert it.
	ErrCreditRatioMissing = errors.New("dollars per credit is not configured")

	// ErrClientGone means a frame could not be written to the client.
	ErrClientGone = errors.New("client disconnected")

	// ErrFrameEncoding is returned by an Emit that could not serialize an
	// event. Nothing was written, so the stream can go on.
	ErrFrameEncoding = errors.New("frame could not be encoded")

	// ErrInvalidUsage means a usage report carries a cost that cannot be
	// billed, such as NaN or a negative amount.
	ErrInvalidUsage = errors.New("invalid usage report")
)

const deductionTimeout = 30 * time.Second

// Public messages of the in-band error frames.
const (
	msgUpstreamFailed   = "The model provider returned an error. Please try again."
	msgEventFailed      = "Part of this response could not be processed."
	msgBillingMisconfig = "Usage for this response could not be billed."
	msgDeductionFailed  = "We could not record the usage for this response. Your balance may be updated later."
	msgImageUpload      = "A generated image could not be saved."
)

// Deductor charges a completed turn against the user's balance.
type Deductor interface {
	DeductCredits(ctx context.Context, charge models.Charge) error
}

// Config holds the billing parameters. A zero DollarsPerCredit leaves
// cost-bearing turns unbilled with an in-band error.
type Config struct {
	DollarsPerCredit         float64
	ImageGenerationSurcharge float64
}

// Turn identifies the user and model a stream is relayed for.
type Turn struct {
	UserID uuid.UUID
	Model  models.ModelConfig
}

// Emit writes and flushes one frame. An error wrapping ErrFrameEncoding means
// the event was skipped; any other error means the client is gone.
type Emit func(models.StreamEvent) error

// Relay is shared by all requests; per-stream state lives in run.
type Relay struct {
	deductor Deductor
	uploader storage.Uploader
	cfg      Config
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func New(deductor Deductor, uploader storage.Uploader, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Relay {
	return &Relay{
		deductor: deductor,
		uploader: uploader,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.Named("relay"),
	}
}

type pendingImage struct {
	data     string
	mimeType string
}

// run is the state of one relayed turn.
type run struct {
	*Relay
	ctx     context.Context
	turn    Turn
	emit    Emit
	logger  *zap.Logger
	pending *linkedhashmap.Map
	billing errgroup.Group
	charged bool
}

// Run consumes upstream until it closes, fails, or the client goes away.
//
// Every upstream event is emitted as soon as it arrives. A usage-bearing meta
// event starts the credit deduction after it has been emitted; the deduction
// is awaited before Run returns. Image payloads are collected per generation
// id, the latest winning, and uploaded in first-seen order once upstream has
// closed. A successful run ends with exactly one stream-complete frame. An
// upstream failure ends the run with a single error frame instead.
//
// Run returns ErrClientGone when a write fails. It never cancels upstream
// itself; the caller cancels the context the stream was opened with.
func (r *Relay) Run(ctx context.Context, turn Turn, upstream <-chan adapters.Chunk, emit Emit) error {
	st := &run{
		Relay:   r,
		ctx:     ctx,
		turn:    turn,
		emit:    emit,
		pending: linkedhashmap.New(),
		logger: r.logger.With(
			zap.String("user_id", turn.UserID.String()),
			zap.String("vendor", turn.Model.VendorName),
			zap.String("model", turn.Model.APIName),
		),
	}

	finish := r.metrics.StreamStarted(turn.Model.VendorName)
	outcome, err := st.relay(upstream)
	finish(outcome)
	return err
}

func (st *run) relay(upstream <-chan adapters.Chunk) (string, error) {
	for {
		var (
			chunk adapters.Chunk
			ok    bool
		)
		select {
		case <-st.ctx.Done():
			st.awaitBilling()
			return "client_gone", fmt.Errorf("%w: %v", ErrClientGone, st.ctx.Err())
		case chunk, ok = <-upstream:
		}
		if !ok {
			break
		}

		if chunk.Err != nil {
			return st.failUpstream(chunk.Err)
		}
		if chunk.Event == nil {
			continue
		}
		if _, ok := chunk.Event.(models.StreamCompleteEvent); ok {
			st.logger.Warn("dropping stream-complete sent by upstream")
			continue
		}

		sendErr := st.send(chunk.Event)
		if sendErr != nil && !errors.Is(sendErr, ErrFrameEncoding) {
			st.awaitBilling()
			return "client_gone", sendErr
		}

		// An unencodable event still gets its side effects; one error frame
		// reports whichever failure came first in handling.
		err := st.handle(chunk.Event)
		if err == nil {
			err = sendErr
		}
		if err != nil {
			st.logger.Error("failed to process event", zap.String("type", chunk.Event.EventType()), zap.Error(err))
			if err := st.send(scopedError(err)); err != nil {
				st.awaitBilling()
				return "client_gone", err
			}
		}
	}

	if err := st.uploadPending(); err != nil {
		st.awaitBilling()
		return "client_gone", err
	}

	if err := st.awaitBilling(); err != nil {
		if err := st.send(models.ErrorEvent{PublicMessage: msgDeductionFailed, Code: "credit_deduction_failed"}); err != nil {
			return "client_gone", err
		}
	}

	if err := st.send(models.StreamCompleteEvent{}); err != nil {
		return "client_gone", err
	}
	return "complete", nil
}

// failUpstream reports an upstream failure with one terminal error frame.
// Pending images are discarded; a deduction already started still completes.
func (st *run) failUpstream(cause error) (string, error) {
	st.logger.Error("upstream stream failed", zap.Error(cause))
	st.metrics.RecordUpstreamError(st.turn.Model.VendorName)

	sendErr := st.send(models.ErrorEvent{PublicMessage: msgUpstreamFailed, Code: "upstream_error"})
	st.awaitBilling()
	if sendErr != nil {
		return "client_gone", sendErr
	}
	return "upstream_error", nil
}

// send writes one frame. Encoding failures are passed through unchanged;
// every other failure is reported as ErrClientGone.
func (st *run) send(ev models.StreamEvent) error {
	if err := st.emit(ev); err != nil {
		if errors.Is(err, ErrFrameEncoding) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	st.metrics.RecordFrame(ev.EventType())
	return nil
}

// handle applies the side effects of one forwarded event.
func (st *run) handle(ev models.StreamEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic handling %s event: %v", ev.EventType(), p)
		}
	}()

	switch e := ev.(type) {
	case models.MetaEvent:
		return st.charge(e)
	case models.ImageDataEvent:
		if e.GenerationID == "" {
			st.logger.Warn("image data without generation id, not persisted")
			return nil
		}
		st.pending.Put(e.GenerationID, pendingImage{data: e.Data, mimeType: e.MimeType})
		return nil
	case models.TextDelta, models.ThinkingDelta, models.ResponseIDEvent,
		models.ToolStatusEvent, models.ImageEvent, models.ErrorEvent, models.StreamCompleteEvent:
		return nil
	default:
		return fmt.Errorf("unhandled event type %q", ev.EventType())
	}
}

// charge starts the deduction for the first usage-bearing meta event. Later
// usage reports are forwarded but never billed.
func (st *run) charge(meta models.MetaEvent) error {
	if meta.Usage == nil {
		return nil
	}
	if st.charged {
		st.logger.Warn("ignoring repeated usage report", zap.Float64("cost", meta.Usage.TotalCost))
		return nil
	}
	st.charged = true

	credits, dollars, err := st.Credits(*meta.Usage)
	if err != nil {
		if errors.Is(err, ErrCreditRatioMissing) {
			st.metrics.RecordDeduction("misconfigured", 0, dollars)
		}
		return err
	}
	if credits <= 0 {
		return nil
	}

	charge := models.Charge{
		UserID:    st.turn.UserID,
		ModelID:   st.turn.Model.ModelID,
		Usage:     *meta.Usage,
		TotalCost: dollars,
		Credits:   credits,
	}
	// The deduction must land even if the client hangs up.
	billCtx := context.WithoutCancel(st.ctx)
	st.billing.Go(func() error {
		ctx, cancel := context.WithTimeout(billCtx, deductionTimeout)
		defer cancel()

		if err := st.deductor.DeductCredits(ctx, charge); err != nil {
			st.metrics.RecordDeduction("failed", credits, dollars)
			return err
		}
		st.metrics.RecordDeduction("ok", credits, dollars)
		return nil
	})
	return nil
}

// Credits converts a usage report into dollars and credits. The image
// generation surcharge is added when the report says an image was made.
func (r *Relay) Credits(u models.Usage) (credits, dollars float64, err error) {
	if math.IsNaN(u.TotalCost) || math.IsInf(u.TotalCost, 0) || u.TotalCost < 0 {
		return 0, 0, fmt.Errorf("%w: total cost %v", ErrInvalidUsage, u.TotalCost)
	}

	dollars = u.TotalCost
	if u.DidGenerateImage {
		dollars += r.cfg.ImageGenerationSurcharge
	}
	if dollars == 0 {
		return 0, 0, nil
	}
	if r.cfg.DollarsPerCredit <= 0 {
		return 0, dollars, ErrCreditRatioMissing
	}
	return dollars / r.cfg.DollarsPerCredit, dollars, nil
}

func (st *run) awaitBilling() error {
	if err := st.billing.Wait(); err != nil {
		st.logger.Error("credit deduction failed", zap.Error(err))
		return err
	}
	return nil
}

// uploadPending persists each collected image and announces its URL. A failed
// upload only affects its own generation id. The error returned is always a
// client write failure.
func (st *run) uploadPending() error {
	for _, key := range st.pending.Keys() {
		id := key.(string)
		value, _ := st.pending.Get(key)
		img := value.(pendingImage)

		url, err := st.uploader.Upload(st.ctx, img.data, img.mimeType)
		if err != nil {
			st.logger.Error("generated image upload failed", zap.String("generation_id", id), zap.Error(err))
			st.metrics.RecordUpload("failed")
			if err := st.send(models.ErrorEvent{PublicMessage: msgImageUpload, Code: "image_upload_failed", GenerationID: id}); err != nil {
				return err
			}
			continue
		}

		st.metrics.RecordUpload("ok")
		if err := st.send(models.ImageEvent{URL: url, GenerationID: id}); err != nil {
			return err
		}
	}
	return nil
}

func scopedError(err error) models.ErrorEvent {
	if errors.Is(err, ErrCreditRatioMissing) {
		return models.ErrorEvent{PublicMessage: msgBillingMisconfig, Code: "billing_misconfigured"}
	}
	return models.ErrorEvent{PublicMessage: msgEventFailed, Code: "event_processing_failed"}
}
