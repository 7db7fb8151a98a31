// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/eventvector"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/oplog"
	"github.com/bureau-foundation/cobalt/lib/recorder"
	"github.com/bureau-foundation/cobalt/lib/registry"
	"github.com/bureau-foundation/cobalt/lib/securerandom"
	"github.com/bureau-foundation/cobalt/lib/testutil"
	"github.com/bureau-foundation/cobalt/lib/upload"
)

const deidentifiedRegistry = `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [
  // Occurrences with two dimensions.
  {"id": 1, "type": "OCCURRENCE", "max_release_stage": "GA",
   "dimensions": [{"max_event_code": 3}, {"max_event_code": 9}],
   "reports": [
     {"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION",
      "event_vector_buffer_max": 2, "system_profile_fields": ["APP_VERSION"]},
     {"id": 2, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION"},
     {"id": 3, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION",
      "max_release_stage": "DOGFOOD"}
   ]},
  {"id": 2, "type": "STRING", "max_release_stage": "GA",
   "reports": [{"id": 1, "type": "STRING_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION",
                "string_buffer_max": 2}]}
]}]}]}`

const privateRegistry = `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [
  {"id": 1, "type": "OCCURRENCE", "max_release_stage": "GA",
   "dimensions": [{"max_event_code": 3}],
   "reports": [
     {"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY",
      "min_value": 1, "max_value": 10, "num_index_points": 10, "poisson_mean": 0.01,
      "system_profile_fields": ["APP_VERSION", "SYSTEM_VERSION"]}
   ]}
]}]}]}`

// Counts are logged on logDay; cycles run the following day, so
// logDay is the most recent complete day.
const logDay = 19201

var uploadTime = time.Date(2022, 7, 29, 12, 0, 0, 0, time.UTC)

var (
	report1       = aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 1}
	report2       = aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 2}
	report3       = aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 3}
	stringReport  = aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 2, ReportID: 1}
	privateReport = aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 1}

	deviceProfile = observation.SystemProfile{AppVersion: "1.2.3", SystemVersion: "14"}
)

type fixture struct {
	cycle    *Cycle
	store    *aggregate.MemoryStore
	uploader *upload.NoOp
	counting *oplog.Counting
	registry *registry.Registry
}

func newFixture(t *testing.T, source string, configure ...func(*Config)) *fixture {
	t.Helper()
	reg, err := registry.Parse([]byte(source))
	if err != nil {
		t.Fatalf("registry.Parse: %v", err)
	}
	f := &fixture{
		store:    aggregate.NewMemoryStore(),
		uploader: &upload.NoOp{},
		counting: oplog.NewCounting(),
		registry: reg,
	}
	cfg := Config{
		Store:           f.store,
		Registry:        reg,
		Encrypter:       &encrypt.NoOp{Environment: "test", KeyIndex: 1},
		Uploader:        f.uploader,
		OperationLogger: f.counting,
		Source:          securerandom.NewConstant(),
		Clock:           clock.Fake(uploadTime),
		SystemProfile:   deviceProfile,
		Enabled:         true,
		ReleaseStage:    registry.StageGA,
	}
	for _, apply := range configure {
		apply(&cfg)
	}
	f.cycle, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) count(t *testing.T, report aggregate.ReportKey, day uint32, value int64, codes ...uint32) {
	t.Helper()
	outcome, err := f.store.AggregateCount(context.Background(), report, day, eventvector.New(codes...), 0, value)
	if err != nil || outcome != aggregate.Aggregated {
		t.Fatalf("AggregateCount(%s, %d, %v) = %v, %v", report, day, codes, outcome, err)
	}
}

// generate runs one cycle to completion.
func (f *fixture) generate(t *testing.T) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	completion := f.cycle.GenerateAggregatedObservations(context.Background())
	result, err := completion.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("cycle did not finish: %v", ctx.Err())
	}
	return result, err
}

func (f *fixture) mustGenerate(t *testing.T) Result {
	t.Helper()
	result, err := f.generate(t)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if result.State != Completed {
		t.Fatalf("State = %s, want completed", result.State)
	}
	return result
}

func (f *fixture) pending(t *testing.T) aggregate.Pending {
	t.Helper()
	pending, err := f.store.ReadPending(context.Background(), logDay+10)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	return pending
}

func (f *fixture) lastSent(t *testing.T, report aggregate.ReportKey) uint32 {
	t.Helper()
	days, err := f.store.LastSentDays(context.Background())
	if err != nil {
		t.Fatalf("LastSentDays: %v", err)
	}
	day, ok := days[report]
	if !ok {
		t.Fatalf("no last sent day for %s", report)
	}
	return day
}

// uploaded is one decrypted observation as the backend sees it.
type uploaded struct {
	metadata       observation.Metadata
	observation    observation.Observation
	contributionID []byte
}

// decode opens every uploaded envelope and observation.
func (f *fixture) decode(t *testing.T) ([]observation.Envelope, []uploaded) {
	t.Helper()
	decrypter := &encrypt.Decrypter{Scheme: encrypt.SchemeNone}
	var envelopes []observation.Envelope
	var observations []uploaded
	for _, message := range f.uploader.Messages() {
		envelope, err := decrypter.OpenEnvelope(message)
		if err != nil {
			t.Fatalf("OpenEnvelope: %v", err)
		}
		envelopes = append(envelopes, envelope)
		for _, batch := range envelope.Batches {
			for _, encrypted := range batch.EncryptedObservations {
				obs, err := decrypter.OpenObservation(encrypted, batch.Metadata)
				if err != nil {
					t.Fatalf("OpenObservation(%s): %v", batch.Metadata, err)
				}
				observations = append(observations, uploaded{
					metadata:       batch.Metadata,
					observation:    obs,
					contributionID: encrypted.ContributionID,
				})
			}
		}
	}
	return envelopes, observations
}

func TestEmptyStoreUploadsNothing(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)

	result := f.mustGenerate(t)

	if result.Observations != 0 || result.Envelopes != 0 || result.Messages != 0 {
		t.Errorf("result = %+v, want no observations, envelopes or messages", result)
	}
	if got := len(f.uploader.Messages()); got != 0 {
		t.Errorf("uploaded %d messages, want 0", got)
	}
	if got := f.uploader.UploadDoneCount(); got != 1 {
		t.Errorf("UploadDone called %d times, want 1", got)
	}
	if got := f.counting.UploadSuccesses(); got != 1 {
		t.Errorf("upload successes = %d, want 1", got)
	}
	if result.CycleID == "" {
		t.Error("cycle id is empty")
	}
}

func TestSingleCountDecodesToOneObservation(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	f.count(t, report2, logDay, 5, 1, 5)

	result := f.mustGenerate(t)
	if result.Observations != 1 || result.Messages != 1 || result.Acknowledged != 1 {
		t.Errorf("result = %+v, want 1 observation, 1 message, 1 acknowledged", result)
	}

	envelopes, observations := f.decode(t)
	if len(envelopes) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envelopes))
	}
	if !bytes.Equal(envelopes[0].RegistryDigest, f.registry.Digest()) {
		t.Error("envelope does not carry the registry digest")
	}
	if len(envelopes[0].ID) != 16 {
		t.Errorf("envelope id is %d bytes, want 16", len(envelopes[0].ID))
	}
	if len(observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(observations))
	}

	wantMetadata := observation.Metadata{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 2, DayIndex: logDay}
	if observations[0].metadata != wantMetadata {
		t.Errorf("metadata = %+v, want %+v", observations[0].metadata, wantMetadata)
	}
	integer := observations[0].observation.Integer
	if integer == nil || len(integer.Values) != 1 {
		t.Fatalf("observation = %+v, want one integer value", observations[0].observation)
	}
	if !integer.Values[0].EventVector.Equal(eventvector.New(1, 5)) || integer.Values[0].Value != 5 {
		t.Errorf("integer value = %v/%d, want [1 5]/5", integer.Values[0].EventVector, integer.Values[0].Value)
	}
	if len(observations[0].observation.RandomID) != observation.RandomIDSize {
		t.Errorf("random id is %d bytes", len(observations[0].observation.RandomID))
	}
	encrypted := envelopes[0].Batches[0].EncryptedObservations[0]
	if len(encrypted.ContributionID) != contributionIDSize {
		t.Errorf("contribution id is %d bytes, want %d", len(encrypted.ContributionID), contributionIDSize)
	}
	if message := f.uploader.Messages()[0]; message.KeyIndex != 1 || message.Environment != "test" {
		t.Errorf("message routing = %d/%q", message.KeyIndex, message.Environment)
	}

	if pending := f.pending(t); len(pending.Counts) != 0 {
		t.Errorf("counts left after upload: %v", pending.Counts)
	}
	if got := f.lastSent(t, report2); got != logDay {
		t.Errorf("last sent day = %d, want %d", got, logDay)
	}
}

func TestRecordedEventsFlowThroughCycle(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	logTime := uploadTime.Add(-24 * time.Hour)
	rec, err := recorder.New(recorder.Config{
		CustomerID:   1,
		ProjectID:    1,
		Registry:     f.registry,
		Store:        f.store,
		Clock:        clock.Fake(logTime),
		ReleaseStage: registry.StageGA,
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	ctx := context.Background()
	if err := rec.LogOccurrence(ctx, 1, 3, 2, 7); err != nil {
		t.Fatalf("LogOccurrence: %v", err)
	}
	if err := rec.LogString(ctx, 2, "checkout"); err != nil {
		t.Fatalf("LogString: %v", err)
	}

	result := f.mustGenerate(t)

	// One integer observation for each of the two occurrence reports
	// collected at GA, and one histogram for the string report.
	if result.Observations != 3 {
		t.Errorf("Observations = %d, want 3", result.Observations)
	}
	_, observations := f.decode(t)
	var histograms int
	for _, got := range observations {
		if got.observation.StringHistogram != nil {
			histograms++
			if !bytes.Equal(got.observation.StringHistogram.StringHashes[0], recorder.HashString("checkout")) {
				t.Error("histogram does not carry the recorded string's hash")
			}
		}
	}
	if histograms != 1 {
		t.Errorf("got %d histograms, want 1", histograms)
	}
}

// gatedStore blocks the Reading step until release is closed.
type gatedStore struct {
	aggregate.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) LastSentDays(ctx context.Context) (map[aggregate.ReportKey]uint32, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.LastSentDays(ctx)
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	gate := &gatedStore{
		Store:   aggregate.NewMemoryStore(),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) { cfg.Store = gate })

	ctx := context.Background()
	first := f.cycle.GenerateAggregatedObservations(ctx)
	testutil.RequireReceive(t, gate.entered, 5*time.Second, "first cycle reading")

	second := f.cycle.GenerateAggregatedObservations(ctx)
	if second != first {
		t.Fatal("trigger during a running cycle started a new cycle")
	}
	if state := first.Result().State; state != Reading {
		t.Errorf("in-flight state = %s, want reading", state)
	}
	if f.cycle.InFlight() != first {
		t.Error("InFlight does not return the running cycle")
	}

	close(gate.release)
	testutil.RequireClosed(t, first.Done(), 5*time.Second, "cycle finished")
	if f.cycle.InFlight() != nil {
		t.Error("InFlight returned a finished cycle")
	}
	if got := f.uploader.UploadDoneCount(); got != 1 {
		t.Errorf("UploadDone called %d times, want 1", got)
	}

	third := f.cycle.GenerateAggregatedObservations(ctx)
	if third == first {
		t.Error("trigger after completion joined the finished cycle")
	}
	testutil.RequireClosed(t, third.Done(), 5*time.Second, "second cycle finished")
	if third.Result().CycleID == "" || third.Result().State != Completed {
		t.Errorf("second cycle result = %+v", third.Result())
	}
}

func TestCallerCancellationDoesNotStopCycle(t *testing.T) {
	gate := &gatedStore{
		Store:   aggregate.NewMemoryStore(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) { cfg.Store = gate })

	ctx, cancel := context.WithCancel(context.Background())
	completion := f.cycle.GenerateAggregatedObservations(ctx)
	testutil.RequireReceive(t, gate.entered, 5*time.Second, "cycle reading")
	cancel()
	close(gate.release)

	testutil.RequireClosed(t, completion.Done(), 5*time.Second, "cycle finished")
	if result := completion.Result(); result.State != Completed || result.Err != nil {
		t.Errorf("result = %+v, want completed", result)
	}
}

func TestReleaseStageAndIgnoredReports(t *testing.T) {
	tests := []struct {
		name    string
		stage   registry.ReleaseStage
		ignore  []aggregate.ReportKey
		reports []uint32
	}{
		{name: "general availability skips dogfood report", stage: registry.StageGA, reports: []uint32{1, 2}},
		{name: "dogfood device collects every report", stage: registry.StageDogfood, reports: []uint32{1, 2, 3}},
		{name: "ignored report is skipped", stage: registry.StageDogfood, ignore: []aggregate.ReportKey{report1}, reports: []uint32{2, 3}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, deidentifiedRegistry, func(cfg *Config) {
				cfg.ReleaseStage = test.stage
				cfg.ReportsToIgnore = test.ignore
			})
			for _, report := range []aggregate.ReportKey{report1, report2, report3} {
				f.count(t, report, logDay, 1, 0, 0)
			}

			f.mustGenerate(t)

			_, observations := f.decode(t)
			var reports []uint32
			for _, got := range observations {
				reports = append(reports, got.metadata.ReportID)
			}
			slices.Sort(reports)
			if !slices.Equal(reports, test.reports) {
				t.Errorf("uploaded reports %v, want %v", reports, test.reports)
			}

			// Counts of skipped reports stay in the store.
			left := len(f.pending(t).Counts)
			if want := 3 - len(test.reports); left != want {
				t.Errorf("%d counts left, want %d", left, want)
			}
		})
	}
}

func TestBackfillIsBounded(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	for day := uint32(logDay - 5); day <= logDay; day++ {
		f.count(t, report2, day, int64(day)-logDay+10, 0, 0)
	}

	result := f.mustGenerate(t)

	if result.Observations != backfillDays+1 {
		t.Errorf("Observations = %d, want %d", result.Observations, backfillDays+1)
	}
	_, observations := f.decode(t)
	var days []uint32
	for _, got := range observations {
		days = append(days, got.metadata.DayIndex)
	}
	slices.Sort(days)
	if want := []uint32{logDay - 3, logDay - 2, logDay - 1, logDay}; !slices.Equal(days, want) {
		t.Errorf("uploaded days %v, want %v", days, want)
	}
	if pending := f.pending(t); len(pending.Counts) != 0 {
		t.Errorf("days outside the window were not cleaned up: %v", pending.Counts)
	}
	if got := f.lastSent(t, report2); got != logDay {
		t.Errorf("last sent day = %d, want %d", got, logDay)
	}

	// The same day again has nothing new.
	result = f.mustGenerate(t)
	if result.Observations != 0 {
		t.Errorf("second cycle Observations = %d, want 0", result.Observations)
	}
	if got := f.uploader.UploadDoneCount(); got != 2 {
		t.Errorf("UploadDone called %d times, want 2", got)
	}
}

func TestEventVectorBufferMaxAtUpload(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	// The store was told no limit, so all three event vectors exist.
	f.count(t, report1, logDay, 1, 0, 1)
	f.count(t, report1, logDay, 2, 0, 2)
	f.count(t, report1, logDay, 3, 0, 3)

	result := f.mustGenerate(t)

	if result.Observations != 2 {
		t.Errorf("Observations = %d, want 2", result.Observations)
	}
	if got := f.counting.EventVectorBufferMaxExceeded(1, 1); got != 1 {
		t.Errorf("event vector buffer max logged %d times, want 1", got)
	}
	if result.Acknowledged != 3 {
		t.Errorf("Acknowledged = %d, want 3: overflow counts are consumed", result.Acknowledged)
	}
	if pending := f.pending(t); len(pending.Counts) != 0 {
		t.Errorf("counts left: %v", pending.Counts)
	}

	_, observations := f.decode(t)
	for _, got := range observations {
		if got.metadata.SystemProfile.AppVersion != deviceProfile.AppVersion {
			t.Errorf("app version = %q, want %q", got.metadata.SystemProfile.AppVersion, deviceProfile.AppVersion)
		}
		if got.metadata.SystemProfile.SystemVersion != "" {
			t.Errorf("system version %q attached to a report that did not select it", got.metadata.SystemProfile.SystemVersion)
		}
	}
}

func TestEnvelopesSplitAtMaxBytes(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) { cfg.EnvelopeMaxBytes = 200 })
	const events = 20
	for code := range uint32(events) {
		f.count(t, report2, logDay, int64(code+1), code%4, code/4)
	}

	result := f.mustGenerate(t)

	if result.Envelopes < 2 || result.Envelopes != result.Messages {
		t.Errorf("Envelopes = %d, Messages = %d: want several, all uploaded", result.Envelopes, result.Messages)
	}
	envelopes, observations := f.decode(t)
	if len(envelopes) != result.Messages {
		t.Errorf("decoded %d envelopes, want %d", len(envelopes), result.Messages)
	}
	if len(observations) != events {
		t.Errorf("decoded %d observations, want %d", len(observations), events)
	}
	if f.uploader.UploadDoneCount() != 1 {
		t.Errorf("UploadDone called %d times, want 1", f.uploader.UploadDoneCount())
	}
}

// failingEncrypter fails integer observations carrying failValue, and
// every envelope when failEnvelopes is set.
type failingEncrypter struct {
	encrypt.Encrypter
	failValue     int64
	failEnvelopes bool
}

func (f failingEncrypter) EncryptObservation(meta observation.Metadata, obs observation.Observation, contributionID []byte) observation.EncryptedMessage {
	if obs.Integer != nil && obs.Integer.Values[0].Value == f.failValue {
		return encrypt.Empty("test", encrypt.SchemeNone)
	}
	return f.Encrypter.EncryptObservation(meta, obs, contributionID)
}

func (f failingEncrypter) EncryptEnvelope(env observation.Envelope) observation.EncryptedMessage {
	if f.failEnvelopes {
		return encrypt.Empty("test", encrypt.SchemeNone)
	}
	return f.Encrypter.EncryptEnvelope(env)
}

func TestObservationEncryptionFailureIsNotAcknowledged(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) {
		cfg.Encrypter = failingEncrypter{Encrypter: cfg.Encrypter, failValue: 7}
	})
	f.count(t, report2, logDay, 5, 1, 1)
	f.count(t, report2, logDay, 7, 1, 2)
	f.count(t, report1, logDay, 1, 2, 2)

	result := f.mustGenerate(t)

	if result.DroppedEncryptions != 1 || result.Observations != 3 || result.Messages != 1 {
		t.Errorf("result = %+v, want 1 dropped of 3 in 1 message", result)
	}
	if _, observations := f.decode(t); len(observations) != 2 {
		t.Errorf("uploaded %d observations, want 2", len(observations))
	}

	pending := f.pending(t)
	if len(pending.Counts) != 1 || pending.Counts[0].Value != 7 {
		t.Fatalf("pending = %v, want only the failed count", pending.Counts)
	}
	if got := f.lastSent(t, report2); got != logDay-1 {
		t.Errorf("report with a failed encryption advanced to %d", got)
	}
	if got := f.lastSent(t, report1); got != logDay {
		t.Errorf("unaffected report last sent = %d, want %d", got, logDay)
	}
}

func TestEnvelopeEncryptionFailureIsNotAcknowledged(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) {
		cfg.Encrypter = failingEncrypter{Encrypter: cfg.Encrypter, failEnvelopes: true}
	})
	f.count(t, report2, logDay, 5, 1, 1)

	result := f.mustGenerate(t)

	if result.Envelopes != 1 || result.Messages != 0 || result.DroppedEncryptions != 1 {
		t.Errorf("result = %+v, want the only envelope dropped", result)
	}
	if got := f.uploader.UploadDoneCount(); got != 1 {
		t.Errorf("UploadDone called %d times, want 1", got)
	}
	if pending := f.pending(t); len(pending.Counts) != 1 {
		t.Errorf("pending = %v, want the count kept", pending.Counts)
	}
	if got := f.lastSent(t, report2); got != logDay-1 {
		t.Errorf("last sent day advanced to %d", got)
	}
}

func TestUploadFailureKeepsCounts(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	f.count(t, report2, logDay, 5, 1, 5)
	errUnavailable := errors.New("collector unavailable")
	f.uploader.SetError(errUnavailable)

	result, err := f.generate(t)
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("cycle error = %v, want %v", err, errUnavailable)
	}
	if result.State != Failed {
		t.Errorf("State = %s, want failed", result.State)
	}
	if f.counting.UploadFailures() != 1 || f.counting.UploadSuccesses() != 0 {
		t.Errorf("upload failures/successes = %d/%d, want 1/0", f.counting.UploadFailures(), f.counting.UploadSuccesses())
	}
	if pending := f.pending(t); len(pending.Counts) != 1 {
		t.Fatalf("pending = %v, want the count kept", pending.Counts)
	}
	if got := f.lastSent(t, report2); got != logDay-1 {
		t.Errorf("last sent day advanced to %d", got)
	}

	f.uploader.SetError(nil)
	result = f.mustGenerate(t)
	if result.Acknowledged != 1 {
		t.Errorf("retry Acknowledged = %d, want 1", result.Acknowledged)
	}
	if pending := f.pending(t); len(pending.Counts) != 0 {
		t.Errorf("counts left after retry: %v", pending.Counts)
	}
}

func TestPrivateReportFabricatesChaff(t *testing.T) {
	f := newFixture(t, privateRegistry)
	f.count(t, privateReport, logDay, 4, 2)

	result := f.mustGenerate(t)

	// 0.01 per index over 40 indices is a mean of 0.4; the constant draw
	// 0.905 fabricates one index.
	if result.Observations != 3 || result.Fabricated != 1 {
		t.Fatalf("result = %+v, want 3 observations with 1 fabricated", result)
	}
	_, observations := f.decode(t)
	if len(observations) != 3 {
		t.Fatalf("decoded %d observations, want 3", len(observations))
	}

	// Value 4 on [1, 10] with 10 points is value index 3; event code 2
	// of 4 gives private index 3*4 + 2.
	if got := observations[0].observation.PrivateIndex; got == nil || got.Index != 14 {
		t.Errorf("real observation = %+v, want private index 14", observations[0].observation)
	}
	// The fabricated index is drawn from 40 indices with the same 0.905.
	if got := observations[1].observation.PrivateIndex; got == nil || got.Index != 36 {
		t.Errorf("fabricated observation = %+v, want private index 36", observations[1].observation)
	}
	if observations[2].observation.ReportParticipation == nil {
		t.Errorf("last observation = %+v, want report participation", observations[2].observation)
	}
	if len(observations[0].contributionID) != contributionIDSize {
		t.Errorf("real observation contribution id is %d bytes, want %d",
			len(observations[0].contributionID), contributionIDSize)
	}
	for _, noise := range observations[1:] {
		if noise.contributionID != nil {
			t.Errorf("noise observation %+v carries contribution id %x", noise.observation, noise.contributionID)
		}
	}
	for _, got := range observations {
		if got.metadata.SystemProfile != deviceProfile {
			t.Errorf("system profile = %+v, want %+v", got.metadata.SystemProfile, deviceProfile)
		}
	}
}

// mixedRegistry pairs a private occurrence report over 132 indices with
// a de-identified string report.
const mixedRegistry = `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [
  {"id": 102, "type": "OCCURRENCE", "max_release_stage": "GA",
   "dimensions": [{"max_event_code": 1}, {"max_event_code": 5}],
   "reports": [
     {"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY",
      "min_value": 0, "max_value": 10, "num_index_points": 11, "poisson_mean": 0.03}
   ]},
  {"id": 103, "type": "STRING", "max_release_stage": "GA",
   "reports": [{"id": 5, "type": "STRING_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION",
                "string_buffer_max": 5}]}
]}]}]}`

func TestSmallPoissonMeanStillFabricatesAcrossIndexSpace(t *testing.T) {
	f := newFixture(t, mixedRegistry)
	occurrence := aggregate.ReportKey{CustomerID: 1, ProjectID: 1, MetricID: 102, ReportID: 1}
	f.count(t, occurrence, logDay, 1, 1, 5)

	result := f.mustGenerate(t)

	// 0.03 is below the chaff threshold for one index, but the report
	// spans 2*6 event vectors by 11 points: a mean of 3.96, which the
	// constant draw 0.905 inverts to 7.
	if result.Fabricated != 7 {
		t.Fatalf("result = %+v, want 7 fabricated", result)
	}
	_, observations := f.decode(t)
	var realCount, fabricated, participation int
	for _, got := range observations {
		if got.metadata.MetricID != 102 {
			continue
		}
		switch {
		case got.observation.ReportParticipation != nil:
			participation++
			if got.contributionID != nil {
				t.Error("participation observation carries a contribution id")
			}
		case got.contributionID != nil:
			realCount++
		default:
			fabricated++
			if index := got.observation.PrivateIndex; index == nil || index.Index >= 132 {
				t.Errorf("fabricated observation %+v outside the index space", got.observation)
			}
		}
	}
	if realCount != 1 || fabricated != 7 || participation != 1 {
		t.Errorf("real/fabricated/participation = %d/%d/%d, want 1/7/1", realCount, fabricated, participation)
	}
}

func TestPrivateReportParticipatesWithoutData(t *testing.T) {
	f := newFixture(t, privateRegistry, func(cfg *Config) {
		// Below the chaff threshold nothing is fabricated.
		cfg.MinChaffLambda = 0.6
	})

	result := f.mustGenerate(t)

	if result.Observations != 1 || result.Fabricated != 0 {
		t.Fatalf("result = %+v, want a single participation observation", result)
	}
	_, observations := f.decode(t)
	if len(observations) != 1 || observations[0].observation.ReportParticipation == nil {
		t.Errorf("observations = %+v, want one participation", observations)
	}
	if got := observations[0].metadata.DayIndex; got != logDay {
		t.Errorf("participation day = %d, want %d", got, logDay)
	}
}

func TestPrivateReportClampsToMaxValue(t *testing.T) {
	f := newFixture(t, privateRegistry, func(cfg *Config) { cfg.MinChaffLambda = 0.6 })
	f.count(t, privateReport, logDay, 25, 0)
	f.count(t, privateReport, logDay, 30, 1)

	f.mustGenerate(t)

	if got := f.counting.MaxValueExceeded(1, 1); got != 1 {
		t.Errorf("max value exceeded logged %d times, want once per report", got)
	}
	_, observations := f.decode(t)
	var indices []uint64
	for _, got := range observations {
		if got.observation.PrivateIndex != nil {
			indices = append(indices, got.observation.PrivateIndex.Index)
		}
	}
	if want := []uint64{36, 37}; !slices.Equal(indices, want) {
		t.Errorf("private indices = %v, want %v", indices, want)
	}
}

func TestStringHistogram(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry)
	ctx := context.Background()
	for _, value := range []string{"alpha", "beta", "alpha", "gamma"} {
		// The store was told no limit, so the third string is listed.
		outcome, err := f.store.AggregateString(ctx, stringReport, logDay, eventvector.New(), 0, 0, recorder.HashString(value))
		if err != nil || outcome != aggregate.Aggregated {
			t.Fatalf("AggregateString(%q) = %v, %v", value, outcome, err)
		}
	}

	result := f.mustGenerate(t)

	if result.Observations != 1 {
		t.Fatalf("Observations = %d, want 1", result.Observations)
	}
	if got := f.counting.StringBufferMaxExceeded(2, 1); got != 1 {
		t.Errorf("string buffer max logged %d times, want 1", got)
	}
	_, observations := f.decode(t)
	histogram := observations[0].observation.StringHistogram
	if histogram == nil {
		t.Fatalf("observation = %+v, want a string histogram", observations[0].observation)
	}
	wantHashes := [][]byte{recorder.HashString("alpha"), recorder.HashString("beta")}
	if !slices.EqualFunc(histogram.StringHashes, wantHashes, bytes.Equal) {
		t.Errorf("hashes = %x, want %x", histogram.StringHashes, wantHashes)
	}
	if len(histogram.Histograms) != 1 {
		t.Fatalf("got %d histograms, want 1", len(histogram.Histograms))
	}
	if got := histogram.Histograms[0]; !slices.Equal(got.BucketIndices, []uint32{0, 1}) || !slices.Equal(got.BucketCounts, []int64{2, 1}) {
		t.Errorf("buckets = %v/%v, want [0 1]/[2 1]", got.BucketIndices, got.BucketCounts)
	}

	pending := f.pending(t)
	if len(pending.Counts) != 0 || len(pending.Strings) != 0 {
		t.Errorf("left after upload: %v, %v", pending.Counts, pending.Strings)
	}
}

// untouchableStore fails the test on any use.
type untouchableStore struct {
	aggregate.Store
	t *testing.T
}

func (s untouchableStore) LastSentDays(context.Context) (map[aggregate.ReportKey]uint32, error) {
	s.t.Error("disabled cycle read the store")
	return nil, nil
}

func (s untouchableStore) ReadPending(context.Context, uint32) (aggregate.Pending, error) {
	s.t.Error("disabled cycle read the store")
	return aggregate.Pending{}, nil
}

func TestDisabledCycleTouchesNothing(t *testing.T) {
	f := newFixture(t, deidentifiedRegistry, func(cfg *Config) {
		cfg.Enabled = false
		cfg.Store = untouchableStore{t: t}
	})

	completion := f.cycle.GenerateAggregatedObservations(context.Background())
	select {
	case <-completion.Done():
	default:
		t.Fatal("disabled cycle did not complete immediately")
	}
	if result := completion.Result(); result.State != Completed {
		t.Errorf("State = %s, want completed", result.State)
	}
	if f.uploader.UploadDoneCount() != 0 || f.counting.UploadSuccesses() != 0 {
		t.Error("disabled cycle reached the uploader")
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	reg, err := registry.Parse([]byte(deidentifiedRegistry))
	if err != nil {
		t.Fatalf("registry.Parse: %v", err)
	}
	complete := Config{
		Store:     aggregate.NewMemoryStore(),
		Registry:  reg,
		Encrypter: &encrypt.NoOp{},
		Uploader:  &upload.NoOp{},
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing store", func(cfg *Config) { cfg.Store = nil }},
		{"missing registry", func(cfg *Config) { cfg.Registry = nil }},
		{"missing encrypter", func(cfg *Config) { cfg.Encrypter = nil }},
		{"missing uploader", func(cfg *Config) { cfg.Uploader = nil }},
		{"negative min chaff lambda", func(cfg *Config) { cfg.MinChaffLambda = -1 }},
		{"negative envelope size", func(cfg *Config) { cfg.EnvelopeMaxBytes = -1 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := complete
			test.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrConfiguration) {
				t.Errorf("New error = %v, want ErrConfiguration", err)
			}
		})
	}
	if _, err := New(complete); err != nil {
		t.Errorf("New(complete) = %v", err)
	}
}

func TestNoOpJob(t *testing.T) {
	completion := NoOp(nil).GenerateAggregatedObservations(context.Background())
	testutil.RequireClosed(t, completion.Done(), time.Second, "no-op job completes")
	if result := completion.Result(); result.State != Completed || result.Err != nil {
		t.Errorf("result = %+v", result)
	}
}

// recordingJob counts triggers.
type recordingJob struct {
	calls chan struct{}
}

func (j *recordingJob) GenerateAggregatedObservations(context.Context) *Completion {
	j.calls <- struct{}{}
	return finished(Result{State: Completed})
}

func TestSchedulerTriggersEveryPeriod(t *testing.T) {
	fake := clock.Fake(uploadTime)
	job := &recordingJob{calls: make(chan struct{}, 8)}
	scheduler := &Scheduler{Clock: fake}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx, job, time.Hour) }()

	testutil.RequireReceive(t, job.calls, 5*time.Second, "first trigger")
	fake.WaitForTimers(1)
	fake.Advance(time.Hour)
	testutil.RequireReceive(t, job.calls, 5*time.Second, "trigger after one period")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "scheduler stopped"); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestSchedulerRejectsBadPeriod(t *testing.T) {
	scheduler := &Scheduler{}
	if err := scheduler.Run(context.Background(), NoOp(nil), 0); err == nil {
		t.Error("Run accepted a zero period")
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Idle: "idle", Reading: "reading", Uploading: "uploading", Completed: "completed", Failed: "failed",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
	if !Failed.Terminal() || Encrypting.Terminal() {
		t.Error("Terminal is wrong")
	}
}
