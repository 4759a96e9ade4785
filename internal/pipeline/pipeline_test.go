// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotrace/ingestion/internal/ai"
	"github.com/ecotrace/ingestion/internal/dedup"
	"github.com/ecotrace/ingestion/internal/llm"
	"github.com/ecotrace/ingestion/internal/models"
	"github.com/ecotrace/ingestion/internal/runlock"
	"github.com/ecotrace/ingestion/internal/sheet"
	"github.com/ecotrace/ingestion/internal/trigger"
)

// --- Fakes ---

type fakeMailbox struct {
	mu      sync.Mutex
	threads []models.Thread
	marked  []string
	listErr error
}

func (f *fakeMailbox) Unprocessed(_ context.Context) ([]models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads, f.listErr
}

func (f *fakeMailbox) MarkProcessed(_ context.Context, thread models.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, thread.ID)
	return nil
}

// routingCompleter answers classification and extraction prompts.
type routingCompleter struct {
	mu         sync.Mutex
	class      string
	extraction string
	calls      []string
}

func (f *routingCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(prompt, "You are a sustainability email classifier") {
		f.calls = append(f.calls, "classify")
		return f.class, nil
	}
	f.calls = append(f.calls, "extract")
	return f.extraction, nil
}

type fakeTrigger struct {
	mu      sync.Mutex
	records []models.CanonicalRecord
}

func (f *fakeTrigger) Start(_ context.Context, rec models.CanonicalRecord) trigger.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return trigger.Result{Started: true, Reason: trigger.ReasonStarted, InstanceID: "wf-1", Attempts: 1}
}

type fakeNotifier struct {
	mu   sync.Mutex
	errs []error
	logs []string
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, runErr error, runLog string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, runErr)
	f.logs = append(f.logs, runLog)
	return nil
}

// failingStore fails every append.
type failingStore struct {
	*sheet.Memory
}

func (failingStore) Append(context.Context, []string) error {
	return errors.New("quota exceeded")
}

// --- Helpers ---

func electricityThread() models.Thread {
	return models.Thread{
		ID: "t1",
		Messages: []models.Message{{
			ID:        "m1",
			From:      "Stadtwerke Nord <billing@stadtwerke-nord.de>",
			Subject:   "Electricity bill March",
			Date:      time.Date(2025, 3, 31, 22, 30, 0, 0, time.UTC),
			PlainBody: "Ihr Stromverbrauch (strom) im März: 1842.5 kWh. Betrag 512,30 EUR.",
			InInbox:   true,
		}},
	}
}

const electricityExtraction = `{"orchestration_result":{"choices":[{"message":{"content":"` +
	"```json\\n" +
	`{\"InvoiceNb\":\"SN-2025-0331\",\"Date\":null,\"Energykhw\":1842.5,\"Price\":512.3,\"Unit\":\"kWh\",\"Amount\":1842.5}` +
	"\\n```" + `"}}]}}`

type harness struct {
	mailbox  *fakeMailbox
	llm      *routingCompleter
	store    *sheet.Memory
	trigger  *fakeTrigger
	notifier *fakeNotifier
	runner   *Runner
}

func newHarness(t *testing.T, threads ...models.Thread) *harness {
	t.Helper()
	h := &harness{
		mailbox: &fakeMailbox{threads: threads},
		llm: &routingCompleter{
			class:      `{"choices":[{"message":{"content":"{\"class\":\"ENERGY_INVOICE_ELECTRICITY\"}"}}]}`,
			extraction: electricityExtraction,
		},
		store:    sheet.NewMemory(),
		trigger:  &fakeTrigger{},
		notifier: &fakeNotifier{},
	}
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	h.runner = NewRunner(Config{
		Mailbox:    h.mailbox,
		Classifier: ai.NewClassifier(h.llm),
		Extractor:  ai.NewExtractor(h.llm),
		Store:      h.store,
		Gate:       dedup.NewGate(h.store),
		Trigger:    h.trigger,
		Notifier:   h.notifier,
		Location:   berlin,
	})
	return h
}

// --- Tests ---

func TestRunElectricityEndToEnd(t *testing.T) {
	h := newHarness(t, electricityThread())

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Threads)
	assert.Equal(t, 1, res.Messages)
	require.Len(t, res.Outcomes, 1)

	out := res.Outcomes[0]
	assert.Equal(t, StateTriggered, out.State)
	assert.Equal(t, models.CategoryElectricity, out.Category)
	require.NotNil(t, out.Trigger)
	assert.True(t, out.Trigger.Started)

	require.NotNil(t, out.Record)
	rec := *out.Record
	assert.Equal(t, "SN-2025-0331", rec.InvoiceNb)
	assert.Equal(t, "2025-04-01", rec.Date, "email date in the configured zone")
	assert.Equal(t, "Stadtwerke Nord", rec.Supplier)
	assert.Equal(t, "1842.5", rec.Energykhw)
	assert.Equal(t, "512.3", rec.Price)
	assert.Equal(t, "kWh", rec.Unit)
	assert.Equal(t, "ENERGY_INVOICE_ELECTRICITY", rec.Category)
	assert.Equal(t, "billing@stadtwerke-nord.de", rec.SupplierEmail)

	rows, err := h.store.Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rec.Values(), rows[0].Values)
	assert.True(t, h.store.HasHeader())

	require.Len(t, h.trigger.records, 1)
	assert.Equal(t, rec, h.trigger.records[0])
	assert.Equal(t, []string{"t1"}, h.mailbox.marked)
	assert.Empty(t, h.notifier.errs)
	assert.NotEmpty(t, res.Log)
}

func TestRunSecondPassIsDuplicate(t *testing.T) {
	h := newHarness(t, electricityThread())
	ctx := context.Background()

	_, err := h.runner.Run(ctx)
	require.NoError(t, err)
	res, err := h.runner.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StateSkippedDuplicate, res.Outcomes[0].State)
	assert.Nil(t, res.Outcomes[0].Trigger)

	rows, _ := h.store.Rows(ctx)
	assert.Len(t, rows, 1)
	assert.Len(t, h.trigger.records, 1, "trigger is fired once per unique record")
}

func TestRunIrrelevantStopsAfterClassification(t *testing.T) {
	h := newHarness(t, electricityThread())
	h.llm.class = `{"class":"SPAM"}`

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StateSkippedIrrelevant, res.Outcomes[0].State)
	assert.Equal(t, models.CategoryNotRelevant, res.Outcomes[0].Category)
	assert.Equal(t, []string{"classify"}, h.llm.calls, "no extraction for irrelevant mail")
	assert.False(t, h.store.HasHeader())
	assert.Empty(t, h.trigger.records)
	assert.Equal(t, []string{"t1"}, h.mailbox.marked, "irrelevant threads are still marked")
}

func TestRunWithoutGatewayCredentialFailsClosed(t *testing.T) {
	var gatewayHits atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatewayHits.Add(1)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"class\":\"ENERGY_INVOICE_ELECTRICITY\"}"}}]}`))
	}))
	defer gateway.Close()

	h := newHarness(t, electricityThread())
	noToken := llm.NewOrchestration(llm.OrchestrationConfig{APIURL: gateway.URL, DeploymentID: "d1"}, nil)
	h.runner.cfg.Classifier = ai.NewClassifier(noToken)

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StateSkippedIrrelevant, res.Outcomes[0].State)
	assert.Equal(t, models.CategoryNotRelevant, res.Outcomes[0].Category)
	assert.Nil(t, res.Outcomes[0].Record)
	assert.Zero(t, gatewayHits.Load(), "no request without a token")
	assert.Empty(t, h.llm.calls, "extraction is never asked")

	rows, err := h.store.Rows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.False(t, h.store.HasHeader())
	assert.Empty(t, h.trigger.records)
	assert.Empty(t, h.notifier.errs)
}

func TestRunSkipsMarkedThreadsAndNonInboxMessages(t *testing.T) {
	marked := electricityThread()
	marked.ID = "t0"
	marked.Labels = []string{DefaultProcessedLabel}

	mixed := electricityThread()
	mixed.Messages = append(mixed.Messages,
		models.Message{ID: "draft", Subject: "draft", InInbox: true, Draft: true},
		models.Message{ID: "sent", Subject: "sent"},
	)

	h := newHarness(t, marked, mixed)
	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Threads)
	assert.Equal(t, 1, res.Messages)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "m1", res.Outcomes[0].MessageID)
	assert.Equal(t, []string{"t1"}, h.mailbox.marked)
}

func TestRunStoreFailureNotifiesAndAborts(t *testing.T) {
	h := newHarness(t, electricityThread())
	bad := failingStore{Memory: sheet.NewMemory()}
	h.runner.cfg.Gate = dedup.NewGate(bad)

	res, err := h.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	require.NotNil(t, res)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StateNormalized, res.Outcomes[0].State)
	assert.Empty(t, h.mailbox.marked, "thread stays unmarked so the next run retries it")
	assert.Empty(t, h.trigger.records)

	require.Len(t, h.notifier.errs, 1)
	assert.Contains(t, h.notifier.logs[0], "processing message")
	assert.Contains(t, h.notifier.logs[0], "pipeline run failed")
}

func TestRunMailboxFailure(t *testing.T) {
	h := newHarness(t)
	h.mailbox.listErr = errors.New("invalid_grant")

	_, err := h.runner.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, h.notifier.errs, 1)
}

func TestRunSkippedWhileLockHeld(t *testing.T) {
	h := newHarness(t, electricityThread())
	lock := runlock.NewLocal()
	h.runner.cfg.Locker = lock

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	res, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, h.llm.calls)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateTriggered.Terminal())
	assert.True(t, StateSkippedDuplicate.Terminal())
	assert.True(t, StateSkippedIrrelevant.Terminal())
	assert.False(t, StatePersisted.Terminal())
}
