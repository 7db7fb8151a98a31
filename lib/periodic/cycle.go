// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/oplog"
	"github.com/bureau-foundation/cobalt/lib/privacy"
	"github.com/bureau-foundation/cobalt/lib/registry"
	"github.com/bureau-foundation/cobalt/lib/securerandom"
	"github.com/bureau-foundation/cobalt/lib/upload"
)

// ErrConfiguration marks errors that no retry can fix: a missing
// dependency, an invalid noise policy, a clock before the epoch.
var ErrConfiguration = errors.New("periodic: configuration error")

const (
	// backfillDays is how far behind the most recent day a report that
	// missed cycles is still caught up.
	backfillDays = 3

	// DefaultEnvelopeMaxBytes bounds the packed size of one envelope.
	DefaultEnvelopeMaxBytes = 256 << 10

	// DefaultDeadline bounds one cycle end to end.
	DefaultDeadline = 10 * time.Minute

	contributionIDSize = 16
)

// Job is the trigger surface of the upload pipeline.
type Job interface {
	// GenerateAggregatedObservations starts a cycle, or joins the one
	// in flight, and returns without waiting for it.
	GenerateAggregatedObservations(ctx context.Context) *Completion
}

// Config holds a Cycle's dependencies. Store, Registry, Encrypter and
// Uploader are required.
type Config struct {
	Store     aggregate.Store
	Registry  *registry.Registry
	Encrypter encrypt.Encrypter
	Uploader  upload.Uploader

	// OperationLogger receives buffer, clamp and upload events. Nil
	// discards.
	OperationLogger oplog.OperationLogger

	// Source supplies random ids, value index draws and noise. Nil
	// means the system CSPRNG.
	Source securerandom.Source

	// Sampler draws the number of fabricated observations. Nil means
	// Poisson.
	Sampler privacy.Sampler

	Clock  clock.Clock
	Logger *slog.Logger

	// SystemProfile is attached to observations of reports that
	// select the corresponding fields.
	SystemProfile observation.SystemProfile

	// EnvelopeMaxBytes bounds each envelope. Zero means
	// DefaultEnvelopeMaxBytes.
	EnvelopeMaxBytes int

	// ReportsToIgnore are never read or uploaded.
	ReportsToIgnore []aggregate.ReportKey

	// Enabled false completes every cycle without touching the store
	// or the uploader.
	Enabled bool

	// MinChaffLambda is the smallest Poisson mean that fabricates.
	// Zero means privacy.DefaultMinChaffLambda.
	MinChaffLambda float64

	// ReleaseStage is the device's stage. Reports with a lower max
	// release stage are skipped.
	ReleaseStage registry.ReleaseStage

	// Deadline bounds one cycle. Zero means DefaultDeadline.
	Deadline time.Duration
}

// Cycle is the production Job.
type Cycle struct {
	config    Config
	mechanism *privacy.Mechanism
	ignored   map[aggregate.ReportKey]bool

	mu       sync.Mutex
	inflight *Completion
}

// New validates cfg and returns a Cycle.
func New(cfg Config) (*Cycle, error) {
	var missing []string
	if cfg.Store == nil {
		missing = append(missing, "store")
	}
	if cfg.Registry == nil {
		missing = append(missing, "registry")
	}
	if cfg.Encrypter == nil {
		missing = append(missing, "encrypter")
	}
	if cfg.Uploader == nil {
		missing = append(missing, "uploader")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if cfg.MinChaffLambda < 0 || math.IsNaN(cfg.MinChaffLambda) || math.IsInf(cfg.MinChaffLambda, 0) {
		return nil, fmt.Errorf("%w: min chaff lambda %v", ErrConfiguration, cfg.MinChaffLambda)
	}
	if cfg.EnvelopeMaxBytes < 0 || cfg.Deadline < 0 {
		return nil, fmt.Errorf("%w: negative envelope size or deadline", ErrConfiguration)
	}

	if cfg.OperationLogger == nil {
		cfg.OperationLogger = oplog.Discard()
	}
	if cfg.Source == nil {
		cfg.Source = securerandom.System()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.EnvelopeMaxBytes == 0 {
		cfg.EnvelopeMaxBytes = DefaultEnvelopeMaxBytes
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = DefaultDeadline
	}

	ignored := make(map[aggregate.ReportKey]bool, len(cfg.ReportsToIgnore))
	for _, key := range cfg.ReportsToIgnore {
		ignored[key] = true
	}

	return &Cycle{
		config:    cfg,
		mechanism: privacy.NewMechanism(cfg.Source, cfg.Sampler),
		ignored:   ignored,
	}, nil
}

// GenerateAggregatedObservations starts a cycle on a goroutine the
// Cycle owns. ctx contributes only its values: cancelling it does not
// stop the cycle, the configured deadline does.
func (c *Cycle) GenerateAggregatedObservations(ctx context.Context) *Completion {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		select {
		case <-c.inflight.Done():
		default:
			c.config.Logger.Debug("upload cycle already running, joining it",
				"cycle_id", c.inflight.Result().CycleID)
			return c.inflight
		}
	}

	cycleID := c.newUUID().String()
	if !c.config.Enabled {
		c.config.Logger.Info("upload cycle skipped, pipeline disabled", "cycle_id", cycleID)
		return finished(Result{CycleID: cycleID, State: Completed})
	}

	completion := newCompletion(cycleID)
	c.inflight = completion
	go c.run(context.WithoutCancel(ctx), completion)
	return completion
}

// InFlight returns the running cycle's completion, or nil when no
// cycle is running.
func (c *Cycle) InFlight() *Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return nil
	}
	select {
	case <-c.inflight.Done():
		return nil
	default:
		return c.inflight
	}
}

func (c *Cycle) run(ctx context.Context, completion *Completion) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Deadline)
	defer cancel()

	cycleID := completion.Result().CycleID
	logger := c.config.Logger.With("cycle_id", cycleID)
	started := c.config.Clock.Now()
	logger.Debug("upload cycle started")

	result := c.execute(ctx, completion, logger)
	result.CycleID = cycleID

	elapsed := c.config.Clock.Now().Sub(started)
	if result.Err != nil {
		logger.Error("upload cycle failed",
			"error", result.Err,
			"observations", result.Observations,
			"elapsed", elapsed,
		)
	} else {
		logger.Info("upload cycle completed",
			"observations", result.Observations,
			"fabricated", result.Fabricated,
			"envelopes", result.Envelopes,
			"messages", result.Messages,
			"dropped_encryptions", result.DroppedEncryptions,
			"acknowledged", result.Acknowledged,
			"elapsed", elapsed,
		)
	}
	completion.finish(result)
}

func (c *Cycle) execute(ctx context.Context, completion *Completion, logger *slog.Logger) Result {
	var result Result
	fail := func(err error) Result {
		result.State = Failed
		result.Err = err
		return result
	}

	completion.setState(Reading)
	plan, err := c.read(ctx)
	if err != nil {
		return fail(err)
	}

	completion.setState(Encoding)
	encoded, err := c.encode(plan, logger)
	if err != nil {
		return fail(err)
	}
	result.Observations = len(encoded.observations)
	result.Fabricated = encoded.fabricated

	completion.setState(Encrypting)
	out := c.encrypt(encoded, logger)
	result.Envelopes = out.envelopes
	result.Messages = len(out.messages)
	result.DroppedEncryptions = out.dropped

	completion.setState(Uploading)
	for _, message := range out.messages {
		c.config.Uploader.Upload(message)
	}
	if err := c.config.Uploader.UploadDone(ctx); err != nil {
		c.config.OperationLogger.LogUploadFailure()
		return fail(fmt.Errorf("periodic: upload: %w", err))
	}
	c.config.OperationLogger.LogUploadSuccess()

	if err := c.config.Store.Acknowledge(ctx, out.ack); err != nil {
		return fail(fmt.Errorf("periodic: acknowledging uploaded counts: %w", err))
	}
	result.Acknowledged = len(out.ack.Counts)

	if err := c.config.Store.Cleanup(ctx, c.config.Registry.ReportKeys(), plan.oldestDay()); err != nil {
		return fail(fmt.Errorf("periodic: cleaning up store: %w", err))
	}

	result.State = Completed
	return result
}

// reportWork is one report's share of a cycle.
type reportWork struct {
	entry registry.Entry

	// policy is set for shuffled differential privacy reports.
	policy *privacy.Policy

	firstDay uint32
}

// work is everything the Reading step hands to Encoding.
type work struct {
	mostRecentDay uint32
	reports       []reportWork
	counts        map[aggregate.ReportDay][]aggregate.Count
	strings       map[aggregate.ReportDay]aggregate.StringList
}

// oldestDay is the first day the store must keep after this cycle.
func (w *work) oldestDay() uint32 {
	if w.mostRecentDay < backfillDays {
		return 0
	}
	return w.mostRecentDay - backfillDays
}

// collects reports whether entry is uploaded by this device.
func (c *Cycle) collects(entry registry.Entry) bool {
	if c.ignored[entry.Key] {
		return false
	}
	return c.config.ReleaseStage.Collects(entry.Metric.MaxReleaseStage) &&
		c.config.ReleaseStage.Collects(entry.Report.MaxReleaseStage)
}

// read selects the reports and days to generate and loads their
// counts. Noise policies are validated before the store is touched.
func (c *Cycle) read(ctx context.Context) (*work, error) {
	today := clock.DayIndex(c.config.Clock.Now(), time.UTC)
	if today == 0 {
		return nil, fmt.Errorf("%w: clock is at the epoch", ErrConfiguration)
	}
	w := &work{mostRecentDay: today - 1}

	var reports []reportWork
	for _, entry := range c.config.Registry.Entries() {
		if !c.collects(entry) {
			continue
		}
		report := reportWork{entry: entry}
		if entry.Report.PrivacyMechanism == registry.ShuffledDifferentialPrivacy {
			policy := &privacy.Policy{
				Lambda:         entry.Report.PoissonMean,
				MinChaffLambda: c.config.MinChaffLambda,
			}
			if err := policy.Validate(); err != nil {
				return nil, fmt.Errorf("%w: report %s: %w", ErrConfiguration, entry.Key, err)
			}
			report.policy = policy
		}
		reports = append(reports, report)
	}

	lastSent, err := c.config.Store.LastSentDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("periodic: reading last sent days: %w", err)
	}

	for _, report := range reports {
		report.firstDay = w.oldestDay()
		if last, ok := lastSent[report.entry.Key]; ok {
			if last >= w.mostRecentDay {
				continue
			}
			report.firstDay = max(report.firstDay, last+1)
		} else {
			// Never aggregated: only the most recent day is new.
			report.firstDay = w.mostRecentDay
		}
		w.reports = append(w.reports, report)
	}

	pending, err := c.config.Store.ReadPending(ctx, w.mostRecentDay)
	if err != nil {
		return nil, fmt.Errorf("periodic: reading pending counts: %w", err)
	}
	w.counts = make(map[aggregate.ReportDay][]aggregate.Count)
	for _, count := range pending.Counts {
		reportDay := aggregate.ReportDay{Report: count.Key.Report, Day: count.Key.Day}
		w.counts[reportDay] = append(w.counts[reportDay], count)
	}
	w.strings = pending.Strings
	return w, nil
}
