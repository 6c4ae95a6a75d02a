package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	"bilancio/internal/notify"
	"bilancio/internal/remote"
	"bilancio/internal/snapshot"
)

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncPushing SyncState = "pushing"
	SyncPulling SyncState = "pulling"
	SyncFailed  SyncState = "failed"
)

type SyncPhase string

const (
	PhaseAuth  SyncPhase = "auth"
	PhasePush  SyncPhase = "push"
	PhasePull  SyncPhase = "pull"
	PhaseMerge SyncPhase = "merge"
)

// SyncFailure is a network, auth or remote error during a sync run. It is
// never fatal; the next trigger retries the whole run.
type SyncFailure struct {
	Account string
	Phase   SyncPhase
	Err     error
}

func (e *SyncFailure) Error() string {
	return fmt.Sprintf("sync %s for %s failed: %v", e.Phase, e.Account, e.Err)
}

func (e *SyncFailure) Unwrap() error { return e.Err }

// Replica is the local side of a sync run.
type Replica interface {
	Snapshot(now time.Time) core.Snapshot
	ClearTombstone(ctx context.Context, t core.Tombstone)
	UpsertIfNewer(ctx context.Context, e core.Entity) (bool, error)
}

// SyncEngineConfig holds configuration for the sync engine
type SyncEngineConfig struct {
	// Timeout bounds one run; a run exceeding it is Failed (default: 30s)
	Timeout time.Duration

	// MaxAttempts is how many times a failed run is tried before giving up (default: 1)
	MaxAttempts int

	// Concurrency bounds parallel document writes during push (default: 8)
	Concurrency int
}

func DefaultSyncEngineConfig() SyncEngineConfig {
	return SyncEngineConfig{
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
		Concurrency: 8,
	}
}

type PushResult struct {
	Pushed    int
	Unchanged int
	Deleted   int
	Failed    int
	// Cleared are the tombstones whose remote document is gone.
	Cleared []core.Tombstone
}

type PullResult struct {
	Snapshot core.Snapshot
	Skipped  int
}

type SyncResult struct {
	RunID    string
	Attempts int
	Push     PushResult
	Pulled   int
	Skipped  int
	Merge    MergeResult
	Duration time.Duration
}

// SyncStatus is the externally visible state of one account.
type SyncStatus struct {
	Account     string
	State       SyncState
	LastError   string
	LastAttempt time.Time
	LastSuccess time.Time
	LastResult  SyncResult
	Queued      bool
}

type syncRun struct {
	replica Replica
	done    chan struct{}
	result  SyncResult
	err     error
}

type accountState struct {
	status  SyncStatus
	running *syncRun
	queued  *syncRun
}

// SyncEngine pushes local snapshots to and pulls remote snapshots from a
// document store, one run at a time per account. It holds no timer; callers
// trigger runs.
type SyncEngine struct {
	remote   remote.DocumentStore
	notifier notify.Notifier
	config   SyncEngineConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	accounts map[string]*accountState
}

func NewSyncEngine(store remote.DocumentStore, notifier notify.Notifier, config SyncEngineConfig, now func() time.Time) *SyncEngine {
	def := DefaultSyncEngineConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &SyncEngine{
		remote:   store,
		notifier: notifier,
		config:   config,
		now:      now,
		sleep:    sleepContext,
		base:     base,
		cancel:   cancel,
		accounts: make(map[string]*accountState),
	}
}

// Close cancels in-flight runs and waits for them to finish.
func (e *SyncEngine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *SyncEngine) state(account string) *accountState {
	st, ok := e.accounts[account]
	if !ok {
		st = &accountState{status: SyncStatus{Account: account, State: SyncIdle}}
		e.accounts[account] = st
	}
	return st
}

// Status reports the sync state of account.
func (e *SyncEngine) Status(account string) SyncStatus {
	account = core.NormalizeEmail(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(account)
	s := st.status
	s.Queued = st.queued != nil
	return s
}

// RecordFailure marks account as Failed without running, e.g. when no
// identity could be obtained.
func (e *SyncEngine) RecordFailure(ctx context.Context, account string, err error) {
	account = core.NormalizeEmail(account)
	e.mu.Lock()
	st := e.state(account)
	st.status.State = SyncFailed
	st.status.LastError = err.Error()
	st.status.LastAttempt = e.now()
	e.mu.Unlock()
	e.notifyFailure(ctx, err)
}

// Sync runs push then pull then merge for account. A request arriving while
// a run is in flight is queued behind it; further requests join the queued
// run instead of adding more. The caller's ctx only bounds its wait.
func (e *SyncEngine) Sync(ctx context.Context, account string, replica Replica) (SyncResult, error) {
	account = core.NormalizeEmail(account)
	run := e.enqueue(account, replica)
	select {
	case <-run.done:
		return run.result, run.err
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

func (e *SyncEngine) enqueue(account string, replica Replica) *syncRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(account)
	if st.queued != nil {
		return st.queued
	}
	run := &syncRun{replica: replica, done: make(chan struct{})}
	if st.running != nil {
		st.queued = run
		return run
	}
	st.running = run
	e.wg.Add(1)
	go e.drain(account, st)
	return run
}

// drain executes the running run and then any run queued behind it.
func (e *SyncEngine) drain(account string, st *accountState) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		run := st.running
		e.mu.Unlock()

		run.result, run.err = e.execute(account, run.replica)

		e.mu.Lock()
		st.running = st.queued
		st.queued = nil
		next := st.running
		e.mu.Unlock()
		close(run.done)
		if next == nil {
			return
		}
	}
}

func (e *SyncEngine) execute(account string, replica Replica) (SyncResult, error) {
	var (
		res SyncResult
		err error
	)
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		res, err = e.runOnce(account, replica)
		res.Attempts = attempt
		if err == nil || attempt == e.config.MaxAttempts || e.base.Err() != nil {
			break
		}
		wait := syncBackoff(attempt - 1)
		slog.InfoContext(e.base, "Retrying sync", "account", account, "attempt", attempt, "backoff", wait)
		if e.sleep(e.base, wait) != nil {
			break
		}
	}

	if err != nil {
		e.notifyFailure(e.base, err)
	} else {
		e.deliver(e.base, notify.Event{
			Kind:  notify.KindSyncSuccess,
			Title: "Sync complete",
			Body:  fmt.Sprintf("%d records sent, %d received", res.Push.Pushed, res.Merge.Adopted),
			Data: map[string]string{
				"account": account,
				"pushed":  fmt.Sprint(res.Push.Pushed),
				"adopted": fmt.Sprint(res.Merge.Adopted),
			},
			At: e.now(),
		})
	}
	return res, err
}

func (e *SyncEngine) notifyFailure(ctx context.Context, err error) {
	e.deliver(ctx, notify.Event{
		Kind:  notify.KindSyncError,
		Title: "Sync failed",
		Body:  err.Error(),
		At:    e.now(),
	})
}

func (e *SyncEngine) deliver(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to deliver sync notification", "kind", ev.Kind, "error", err)
	}
}

func (e *SyncEngine) setState(account string, s SyncState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(account)
	st.status.State = s
	if s == SyncPushing {
		st.status.LastAttempt = e.now()
	}
}

func (e *SyncEngine) finish(account string, res SyncResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(account)
	st.status.LastResult = res
	if err != nil {
		st.status.State = SyncFailed
		st.status.LastError = err.Error()
		return
	}
	st.status.State = SyncIdle
	st.status.LastError = ""
	st.status.LastSuccess = e.now()
}

func (e *SyncEngine) runOnce(account string, replica Replica) (res SyncResult, err error) {
	res.RunID = uuid.NewString()
	start := time.Now()
	ctx, cancel := context.WithTimeout(e.base, e.config.Timeout)
	defer cancel()
	defer func() {
		res.Duration = time.Since(start)
		var f *SyncFailure
		if errors.As(err, &f) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.Err = fmt.Errorf("no response within %s: %w", e.config.Timeout, f.Err)
		}
		e.finish(account, res, err)
		if err != nil {
			slog.WarnContext(ctx, "Sync run failed", "run_id", res.RunID, "account", account, "error", err, "duration", res.Duration)
			return
		}
		slog.InfoContext(ctx, "Sync run completed",
			"run_id", res.RunID,
			"account", account,
			"pushed", res.Push.Pushed,
			"deleted", res.Push.Deleted,
			"pulled", res.Pulled,
			"skipped", res.Skipped,
			"adopted", res.Merge.Adopted,
			"duration", res.Duration)
	}()

	slog.InfoContext(ctx, "Sync run started", "run_id", res.RunID, "account", account)
	e.setState(account, SyncPushing)
	snap := replica.Snapshot(e.now())
	res.Push, err = e.PushSnapshot(ctx, account, snap)
	for _, t := range res.Push.Cleared {
		replica.ClearTombstone(ctx, t)
	}
	if err != nil {
		return res, &SyncFailure{Account: account, Phase: PhasePush, Err: err}
	}

	e.setState(account, SyncPulling)
	pull, err := e.PullSnapshot(ctx, account)
	if err != nil {
		return res, &SyncFailure{Account: account, Phase: PhasePull, Err: err}
	}
	res.Skipped = pull.Skipped
	for _, n := range pull.Snapshot.Count() {
		res.Pulled += n
	}

	res.Merge, err = Merge(ctx, replica, pull.Snapshot)
	if err != nil {
		return res, &SyncFailure{Account: account, Phase: PhaseMerge, Err: err}
	}
	return res, nil
}

// PushSnapshot writes every record of snap under the account root, one
// document per record, and deletes the documents of its tombstones. A record
// is only written when the remote copy is missing, unreadable or older, so
// pushing the same snapshot twice is a no-op. Individual write failures do not
// stop the others; they are joined into the returned error.
func (e *SyncEngine) PushSnapshot(ctx context.Context, account string, snap core.Snapshot) (PushResult, error) {
	var res PushResult
	remoteTimes, err := e.remoteUpdatedAt(ctx, account)
	if err != nil {
		return res, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Failed++
		errs = append(errs, err)
	}

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for _, t := range snap.Tombstones {
		path := remote.RecordPath(account, t.Table, snapshot.RecordKey(t.ID))
		if at, ok := remoteTimes[path]; ok && at.After(t.DeletedAt) {
			// Edited elsewhere after the local delete; the pull adopts it.
			continue
		}
		g.Go(func() error {
			if err := e.remote.Delete(ctx, path); err != nil && !errors.Is(err, remote.ErrNotFound) {
				fail(fmt.Errorf("delete %s: %w", path, err))
				return nil
			}
			mu.Lock()
			res.Deleted++
			res.Cleared = append(res.Cleared, t)
			mu.Unlock()
			return nil
		})
	}

	for _, table := range core.Tables {
		for _, ent := range snap.Entities(table) {
			path := remote.RecordPath(account, table, snapshot.RecordKey(ent.EntityID()))
			if at, ok := remoteTimes[path]; ok && !ent.Updated().After(at) {
				res.Unchanged++
				continue
			}
			fields, err := snapshot.Encode(ent)
			if err != nil {
				fail(err)
				continue
			}
			body, err := json.Marshal(fields)
			if err != nil {
				fail(fmt.Errorf("marshal %s: %w", path, err))
				continue
			}
			g.Go(func() error {
				if err := e.remote.Put(ctx, path, body); err != nil {
					fail(fmt.Errorf("put %s: %w", path, err))
					return nil
				}
				mu.Lock()
				res.Pushed++
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(res.Cleared, func(i, j int) bool {
		if res.Cleared[i].Table != res.Cleared[j].Table {
			return res.Cleared[i].Table < res.Cleared[j].Table
		}
		return res.Cleared[i].ID < res.Cleared[j].ID
	})
	return res, errors.Join(errs...)
}

// remoteUpdatedAt lists the account and returns the updatedAt of every
// readable document by path.
func (e *SyncEngine) remoteUpdatedAt(ctx context.Context, account string) (map[string]time.Time, error) {
	docs, err := e.remote.List(ctx, remote.AccountRoot(account)+"/")
	if err != nil {
		return nil, fmt.Errorf("list remote records: %w", err)
	}
	out := make(map[string]time.Time, len(docs))
	for _, d := range docs {
		var f snapshot.Fields
		if json.Unmarshal(d.Body, &f) != nil {
			continue
		}
		if at, ok := snapshot.UpdatedAt(f); ok {
			out[d.Path] = at
		}
	}
	return out, nil
}

// PullSnapshot reads every table of the account. Documents that cannot be
// decoded are skipped and counted; they never fail the pull.
func (e *SyncEngine) PullSnapshot(ctx context.Context, account string) (PullResult, error) {
	type tableResult struct {
		entities []core.Entity
		skipped  int
	}
	results := make([]tableResult, len(core.Tables))

	g, gctx := errgroup.WithContext(ctx)
	for i, table := range core.Tables {
		g.Go(func() error {
			docs, err := e.remote.List(gctx, remote.TablePrefix(account, table))
			if err != nil {
				return fmt.Errorf("list %s: %w", table, err)
			}
			var tr tableResult
			for _, d := range docs {
				ent, err := decodeDocument(table, d)
				if err != nil {
					tr.skipped++
					slog.DebugContext(gctx, "Skipping malformed remote record", "path", d.Path, "error", err)
					continue
				}
				tr.entities = append(tr.entities, ent)
			}
			results[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PullResult{}, err
	}

	res := PullResult{Snapshot: core.Snapshot{Version: core.SnapshotVersion, TakenAt: e.now()}}
	for _, tr := range results {
		for _, ent := range tr.entities {
			res.Snapshot.Add(ent)
		}
		res.Skipped += tr.skipped
	}
	res.Snapshot.Sort()
	return res, nil
}

func decodeDocument(table core.Table, d remote.Document) (core.Entity, error) {
	id, err := snapshot.ParseRecordKey(remote.RecordKey(d.Path))
	if err != nil {
		return nil, err
	}
	var f snapshot.Fields
	if err := json.Unmarshal(d.Body, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", snapshot.ErrMalformed, err)
	}
	return snapshot.Decode(table, id, f)
}

// syncBackoff returns 1s doubling per attempt, capped at 30s.
func syncBackoff(attempt int) time.Duration {
	const maxBackoff = 30 * time.Second
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
