package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vulnscanio/engine/internal/infra/notification"
	"github.com/vulnscanio/engine/internal/infra/runner"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/finding"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/pagination"
)

// In-memory fakes for the persistence and transport ports. They enforce the
// same contracts the real implementations do (duplicate-active rejection,
// compare-and-swap status transitions, duplicate-result rejection) so the
// services under test hit honest failure paths.

func testPage() pagination.Pagination { return pagination.New(1, 50) }

// cloneJob detaches a job from the store the way a row scan would. Entity
// mutations made by a caller must not leak into the store until Update.
func cloneJob(j *scan.ScanJob) *scan.ScanJob {
	c := *j
	c.Modules = append([]string(nil), j.Modules...)
	c.Results = append([]*scan.ModuleResult(nil), j.Results...)
	return &c
}

type fakeScanRepo struct {
	mu   sync.Mutex
	jobs map[shared.ID]*scan.ScanJob

	updateStatusErr error
}

func newFakeScanRepo(jobs ...*scan.ScanJob) *fakeScanRepo {
	r := &fakeScanRepo{jobs: make(map[shared.ID]*scan.ScanJob)}
	for _, j := range jobs {
		r.jobs[j.ID] = cloneJob(j)
	}
	return r
}

func (r *fakeScanRepo) Create(_ context.Context, job *scan.ScanJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.OrgID == job.OrgID && j.TargetID == job.TargetID && !j.Status.IsTerminal() {
			return scan.ErrDuplicateActiveScan
		}
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *fakeScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, scan.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *fakeScanRepo) GetByOrgAndID(_ context.Context, orgID, id shared.ID) (*scan.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.OrgID != orgID {
		return nil, scan.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *fakeScanRepo) GetWithResults(ctx context.Context, id shared.ID) (*scan.ScanJob, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeScanRepo) List(_ context.Context, filter scan.Filter, page pagination.Pagination) (pagination.Result[*scan.ScanJob], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*scan.ScanJob
	for _, j := range r.jobs {
		if filter.OrgID != nil && j.OrgID != *filter.OrgID {
			continue
		}
		if filter.TargetID != nil && j.TargetID != *filter.TargetID {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.CreatedAfter != nil && j.CreatedAt.Before(*filter.CreatedAfter) {
			continue
		}
		matched = append(matched, cloneJob(j))
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })
	total := int64(len(matched))
	if len(matched) > page.PerPage {
		matched = matched[:page.PerPage]
	}
	return pagination.NewResult(matched, total, page), nil
}

func (r *fakeScanRepo) Update(_ context.Context, job *scan.ScanJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return scan.ErrNotFound
	}
	stored := cloneJob(job)
	// The cancel flag is owned by SetCancelRequested, mirroring the SQL
	// implementation, so a stale entity copy cannot clear it.
	stored.CancelRequested = r.jobs[job.ID].CancelRequested
	r.jobs[job.ID] = stored
	return nil
}

func (r *fakeScanRepo) UpdateStatusFrom(_ context.Context, id shared.ID, expected, next scan.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateStatusErr != nil {
		return r.updateStatusErr
	}
	j, ok := r.jobs[id]
	if !ok {
		return scan.ErrNotFound
	}
	if j.Status != expected {
		return shared.NewDomainError("CONFLICT", "scan status changed concurrently", shared.ErrConflict)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

func (r *fakeScanRepo) SetCancelRequested(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return scan.ErrNotFound
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now()
	return nil
}

func (r *fakeScanRepo) CountActiveByTarget(_ context.Context, orgID, targetID shared.ID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.jobs {
		if j.OrgID == orgID && j.TargetID == targetID && !j.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r *fakeScanRepo) ListUnfinished(_ context.Context, olderThan time.Time) ([]*scan.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.ScanJob
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(olderThan) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *fakeScanRepo) GetStats(_ context.Context, orgID shared.ID) (*scan.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &scan.Stats{
		ByStatus:  make(map[scan.Status]int64),
		ByProfile: make(map[string]int64),
	}
	for _, j := range r.jobs {
		if j.OrgID != orgID {
			continue
		}
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.ByProfile[j.Profile]++
	}
	return stats, nil
}

func (r *fakeScanRepo) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return scan.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

// status reads the stored status bypassing the entity copy under test.
func (r *fakeScanRepo) status(id shared.ID) scan.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

func (r *fakeScanRepo) stored(id shared.ID) *scan.ScanJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneJob(r.jobs[id])
}

type fakeResultRepo struct {
	mu      sync.Mutex
	results []*scan.ModuleResult
}

func (r *fakeResultRepo) Create(_ context.Context, result *scan.ModuleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.results {
		if existing.ScanID == result.ScanID && existing.ModuleName == result.ModuleName {
			return scan.ErrDuplicateResult
		}
	}
	r.results = append(r.results, result)
	return nil
}

func (r *fakeResultRepo) ListByScanID(_ context.Context, scanID shared.ID) ([]*scan.ModuleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.ModuleResult
	for _, res := range r.results {
		if res.ScanID == scanID {
			out = append(out, res)
		}
	}
	return out, nil
}

type fakeFindingRepo struct {
	mu       sync.Mutex
	findings []*finding.Finding
}

func (r *fakeFindingRepo) CreateBatch(_ context.Context, findings []*finding.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, findings...)
	return nil
}

func (r *fakeFindingRepo) ListByScanID(_ context.Context, scanID shared.ID) ([]*finding.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*finding.Finding
	for _, f := range r.findings {
		if f.ScanID == scanID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Severity.Weight() > out[k].Severity.Weight() })
	return out, nil
}

func (r *fakeFindingRepo) List(_ context.Context, filter finding.Filter, page pagination.Pagination) (pagination.Result[*finding.Finding], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*finding.Finding
	for _, f := range r.findings {
		if filter.OrgID != nil && f.OrgID != *filter.OrgID {
			continue
		}
		if filter.ScanID != nil && f.ScanID != *filter.ScanID {
			continue
		}
		if filter.Severity != nil && f.Severity != *filter.Severity {
			continue
		}
		out = append(out, f)
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *fakeFindingRepo) CountBySeverity(_ context.Context, orgID shared.ID) (map[finding.Severity]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[finding.Severity]int64)
	for _, f := range r.findings {
		if f.OrgID == orgID {
			counts[f.Severity]++
		}
	}
	return counts, nil
}

func (r *fakeFindingRepo) DeleteByScanID(_ context.Context, scanID shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.findings[:0]
	for _, f := range r.findings {
		if f.ScanID != scanID {
			kept = append(kept, f)
		}
	}
	r.findings = kept
	return nil
}

type fakeTargetRepo struct {
	mu      sync.Mutex
	targets map[shared.ID]*target.Target
	touched map[shared.ID]time.Time
}

func newFakeTargetRepo(targets ...*target.Target) *fakeTargetRepo {
	r := &fakeTargetRepo{
		targets: make(map[shared.ID]*target.Target),
		touched: make(map[shared.ID]time.Time),
	}
	for _, t := range targets {
		r.targets[t.ID()] = t
	}
	return r
}

func (r *fakeTargetRepo) Create(_ context.Context, t *target.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.targets {
		if existing.OrgID() == t.OrgID() && existing.Value() == t.Value() {
			return target.ErrTargetExists
		}
	}
	r.targets[t.ID()] = t
	return nil
}

func (r *fakeTargetRepo) GetByID(_ context.Context, id, orgID target.ID) (*target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok || t.OrgID() != orgID {
		return nil, target.ErrTargetNotFound
	}
	return t, nil
}

func (r *fakeTargetRepo) GetByValue(_ context.Context, orgID target.ID, value string) (*target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets {
		if t.OrgID() == orgID && t.Value() == value {
			return t, nil
		}
	}
	return nil, target.ErrTargetNotFound
}

func (r *fakeTargetRepo) List(_ context.Context, filter target.Filter, page pagination.Pagination) (pagination.Result[*target.Target], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*target.Target
	for _, t := range r.targets {
		if filter.OrgID != nil && t.OrgID() != *filter.OrgID {
			continue
		}
		out = append(out, t)
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *fakeTargetRepo) Update(_ context.Context, t *target.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[t.ID()]; !ok {
		return target.ErrTargetNotFound
	}
	r.targets[t.ID()] = t
	return nil
}

func (r *fakeTargetRepo) TouchLastScan(_ context.Context, id target.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[id] = at
	return nil
}

func (r *fakeTargetRepo) Delete(_ context.Context, id, orgID target.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok || t.OrgID() != orgID {
		return target.ErrTargetNotFound
	}
	delete(r.targets, id)
	return nil
}

// enqueueCall records one handoff to the job queue.
type enqueueCall struct {
	kind    string
	scanID  shared.ID
	orgID   shared.ID
	otherID shared.ID
	detail  string
	delay   time.Duration
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall

	scanErr         error
	notificationErr error
}

func (e *fakeEnqueuer) record(c enqueueCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

func (e *fakeEnqueuer) EnqueueScan(_ context.Context, scanID, orgID shared.ID) error {
	if e.scanErr != nil {
		return e.scanErr
	}
	e.record(enqueueCall{kind: "scan", scanID: scanID, orgID: orgID})
	return nil
}

func (e *fakeEnqueuer) EnqueueScanIn(_ context.Context, scanID, orgID shared.ID, delay time.Duration) error {
	if e.scanErr != nil {
		return e.scanErr
	}
	e.record(enqueueCall{kind: "scan", scanID: scanID, orgID: orgID, delay: delay})
	return nil
}

func (e *fakeEnqueuer) EnqueueDiscovery(_ context.Context, targetID, orgID shared.ID) error {
	e.record(enqueueCall{kind: "discovery", otherID: targetID, orgID: orgID})
	return nil
}

func (e *fakeEnqueuer) EnqueueReport(_ context.Context, scanID, orgID shared.ID, format string) error {
	e.record(enqueueCall{kind: "report", scanID: scanID, orgID: orgID, detail: format})
	return nil
}

func (e *fakeEnqueuer) EnqueueNotification(_ context.Context, scanID, orgID shared.ID, eventType string) error {
	if e.notificationErr != nil {
		return e.notificationErr
	}
	e.record(enqueueCall{kind: "notification", scanID: scanID, orgID: orgID, detail: eventType})
	return nil
}

func (e *fakeEnqueuer) EnqueueDigest(_ context.Context, orgID shared.ID, period string) error {
	e.record(enqueueCall{kind: "digest", orgID: orgID, detail: period})
	return nil
}

// byKind returns the detail strings of recorded calls of one kind, in order.
func (e *fakeEnqueuer) byKind(kind string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, c := range e.calls {
		if c.kind == kind {
			out = append(out, c.detail)
		}
	}
	return out
}

func (e *fakeEnqueuer) countKind(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (e *fakeEnqueuer) scanCalls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []enqueueCall
	for _, c := range e.calls {
		if c.kind == "scan" {
			out = append(out, c)
		}
	}
	return out
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []scan.Event
}

func (p *capturingPublisher) Publish(_ context.Context, event scan.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) kinds() []scan.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]scan.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// progressValues returns the Progress of each scan.progress event, in order.
func (p *capturingPublisher) progressValues() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, e := range p.events {
		if e.Kind == scan.EventScanProgress {
			out = append(out, e.Progress)
		}
	}
	return out
}

func (p *capturingPublisher) last() scan.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// stubRunner is a scriptable module runner.
type stubRunner struct {
	name string
	run  func(ctx context.Context, tgt *target.Target) (*runner.Report, error)

	mu    sync.Mutex
	calls int
}

func (r *stubRunner) Name() string { return r.name }

func (r *stubRunner) Run(ctx context.Context, tgt *target.Target) (*runner.Report, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, tgt)
	}
	return &runner.Report{}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeRegistry map[string]runner.Runner

func (f fakeRegistry) Get(name string) (runner.Runner, bool) {
	r, ok := f[name]
	return r, ok
}

func registryOf(runners ...*stubRunner) fakeRegistry {
	reg := make(fakeRegistry, len(runners))
	for _, r := range runners {
		reg[r.name] = r
	}
	return reg
}

type fakeChannelRepo struct {
	mu         sync.Mutex
	channels   map[channel.ID]*channel.Channel
	deliveries []*channel.Delivery
}

func newFakeChannelRepo(channels ...*channel.Channel) *fakeChannelRepo {
	r := &fakeChannelRepo{channels: make(map[channel.ID]*channel.Channel)}
	for _, c := range channels {
		r.channels[c.ID()] = c
	}
	return r
}

func (r *fakeChannelRepo) Create(_ context.Context, c *channel.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.channels {
		if existing.OrgID() == c.OrgID() && existing.Name() == c.Name() {
			return channel.ErrChannelNameExists
		}
	}
	r.channels[c.ID()] = c
	return nil
}

func (r *fakeChannelRepo) GetByID(_ context.Context, id, orgID channel.ID) (*channel.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok || c.OrgID() != orgID {
		return nil, channel.ErrChannelNotFound
	}
	return c, nil
}

func (r *fakeChannelRepo) List(_ context.Context, filter channel.Filter, page pagination.Pagination) (pagination.Result[*channel.Channel], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*channel.Channel
	for _, c := range r.channels {
		if filter.OrgID != nil && c.OrgID() != *filter.OrgID {
			continue
		}
		if filter.Enabled != nil && c.Enabled() != *filter.Enabled {
			continue
		}
		out = append(out, c)
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *fakeChannelRepo) Update(_ context.Context, c *channel.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[c.ID()]; !ok {
		return channel.ErrChannelNotFound
	}
	r.channels[c.ID()] = c
	return nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, id, orgID channel.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok || c.OrgID() != orgID {
		return channel.ErrChannelNotFound
	}
	delete(r.channels, id)
	return nil
}

func (r *fakeChannelRepo) ListSubscribed(_ context.Context, orgID channel.ID, eventType string) ([]*channel.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*channel.Channel
	for _, c := range r.channels {
		if c.OrgID() == orgID && c.Enabled() && c.SubscribedTo(eventType) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChannelRepo) ListOrgsWithEnabled(_ context.Context) ([]channel.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[channel.ID]bool)
	var out []channel.ID
	for _, c := range r.channels {
		if c.Enabled() && !seen[c.OrgID()] {
			seen[c.OrgID()] = true
			out = append(out, c.OrgID())
		}
	}
	return out, nil
}

func (r *fakeChannelRepo) CreateDelivery(_ context.Context, d *channel.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *fakeChannelRepo) ListDeliveries(_ context.Context, filter channel.DeliveryFilter, page pagination.Pagination) (pagination.Result[*channel.Delivery], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*channel.Delivery
	for _, d := range r.deliveries {
		if filter.ChannelID != nil && d.ChannelID != *filter.ChannelID {
			continue
		}
		out = append(out, d)
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *fakeChannelRepo) deliveryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// fakeNotifyClient stands in for a webhook endpoint.
type fakeNotifyClient struct {
	kind   channel.Kind
	err    error
	result *notification.SendResult

	mu   sync.Mutex
	sent []notification.Message
}

func (c *fakeNotifyClient) Send(_ context.Context, msg notification.Message) (*notification.SendResult, error) {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.result != nil {
		return c.result, nil
	}
	return &notification.SendResult{Success: true}, nil
}

func (c *fakeNotifyClient) TestConnection(ctx context.Context) (*notification.SendResult, error) {
	return c.Send(ctx, notification.Message{Event: "test", Title: "connection test"})
}

func (c *fakeNotifyClient) Kind() channel.Kind { return c.kind }

func (c *fakeNotifyClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeNotifyClient) lastSent() notification.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type fakeArtifactStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (s *fakeArtifactStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	s.contentTypes[key] = contentType
	return nil
}

func (s *fakeArtifactStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key + "?signed=1", nil
}

func (s *fakeArtifactStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func (s *fakeArtifactStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[shared.ID]*scan.Schedule
}

func newFakeScheduleRepo(schedules ...*scan.Schedule) *fakeScheduleRepo {
	r := &fakeScheduleRepo{schedules: make(map[shared.ID]*scan.Schedule)}
	for _, s := range schedules {
		r.schedules[s.ID] = s
	}
	return r
}

func (r *fakeScheduleRepo) Create(_ context.Context, schedule *scan.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[schedule.ID] = schedule
	return nil
}

func (r *fakeScheduleRepo) GetByID(_ context.Context, id shared.ID) (*scan.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, scan.ErrScheduleNotFound
	}
	return s, nil
}

func (r *fakeScheduleRepo) GetByOrgAndID(_ context.Context, orgID, id shared.ID) (*scan.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.OrgID != orgID {
		return nil, scan.ErrScheduleNotFound
	}
	return s, nil
}

func (r *fakeScheduleRepo) ListByOrg(_ context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*scan.Schedule], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Schedule
	for _, s := range r.schedules {
		if s.OrgID == orgID {
			out = append(out, s)
		}
	}
	return pagination.NewResult(out, int64(len(out)), page), nil
}

func (r *fakeScheduleRepo) ListDue(_ context.Context, now time.Time) ([]*scan.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scan.Schedule
	for _, s := range r.schedules {
		if s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) Update(_ context.Context, schedule *scan.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[schedule.ID]; !ok {
		return scan.ErrScheduleNotFound
	}
	r.schedules[schedule.ID] = schedule
	return nil
}

func (r *fakeScheduleRepo) Delete(_ context.Context, id shared.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return scan.ErrScheduleNotFound
	}
	delete(r.schedules, id)
	return nil
}
