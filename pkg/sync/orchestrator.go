// Package sync implements the reactive delta-sync orchestrator: boot
// (warm/cold), debounced single-flight reconciliation against the row
// store's two reactive queries, and latest+backup snapshot scheduling.
// The reconcile/snapshot loop runs as a background ticker goroutine with
// mutex-guarded pending-work counters and a WaitGroup-gated shutdown.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/noteindex/internal/rowstore"
	"github.com/orneryd/noteindex/pkg/embedclient"
	"github.com/orneryd/noteindex/pkg/graphstore"
	"github.com/orneryd/noteindex/pkg/persistence"
	"github.com/orneryd/noteindex/pkg/searchengine"
)

// State is the orchestrator's single-flight state machine.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateReconciling
	StateSnapshotting
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateReconciling:
		return "reconciling"
	case StateSnapshotting:
		return "snapshotting"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config holds the orchestrator's tunables.
type Config struct {
	Debounce         time.Duration
	ChangesThreshold int
	SnapshotInterval time.Duration
	SnapshotName     string
	BackupName       string
	Dim              int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:         time.Second,
		ChangesThreshold: 50,
		SnapshotInterval: 5 * time.Minute,
		SnapshotName:     "latest",
		BackupName:       "backup",
	}
}

// Status is a point-in-time read of the orchestrator's state, surfaced
// by the CLI's `status` subcommand.
type Status struct {
	State              State
	KnownCount         int
	PendingChangeCount int
	LastProcessedAt    time.Time
	LastSnapshotAt     time.Time
	LastSnapshotReason string
	LastSnapshotErr    error
}

// Orchestrator owns boot, debounced reconciliation, and snapshot
// scheduling for a searchengine.Engine against an external rowstore.Store.
type Orchestrator struct {
	engine   *searchengine.Engine
	rows     rowstore.Store
	blobs    graphstore.BlobStore
	embedder embedclient.Client
	config   Config

	mu                 stdsync.Mutex
	state              State
	knownExt           map[string]bool
	knownHash          map[string]string
	pendingChangeCount int
	isProcessing       bool
	pendingDeltas      bool
	lastProcessedAt    time.Time
	lastSnapshotAt     time.Time
	lastSnapshotReason string
	lastSnapshotErr    error

	snapshotTimer *time.Ticker
	unsubs        []rowstore.Unsubscribe
	triggers      chan struct{}
	stop          chan struct{}
	wg            stdsync.WaitGroup
}

// New constructs an Orchestrator. Call Start to run the boot protocol
// and begin reactive reconciliation.
func New(engine *searchengine.Engine, rows rowstore.Store, blobs graphstore.BlobStore, embedder embedclient.Client, config Config) *Orchestrator {
	if config.Debounce <= 0 {
		config = DefaultConfig()
	}
	if config.Dim <= 0 {
		config.Dim = engine.Dim()
	}
	return &Orchestrator{
		engine:    engine,
		rows:      rows,
		blobs:     blobs,
		embedder:  embedder,
		config:    config,
		state:     StateIdle,
		knownExt:  make(map[string]bool),
		knownHash: make(map[string]string),
		triggers:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// fingerprint hashes (title, content, updatedAt, model) with blake2b-256
// as a fast auxiliary content hash, hex-encoded and truncated to 16
// characters — mirrors persistence.Checksum's SHA-256 truncation but
// uses a distinct algorithm so the two never collide on the same input
// by construction.
func fingerprint(title, content string, updatedAt time.Time, model string) string {
	payload := fmt.Sprintf("%s|%s|%d|%s", title, content, updatedAt.UnixNano(), model)
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// Checksum256 is the SHA-256-based variant used where a collision-hardened
// comparison matters more than speed.
func Checksum256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Start runs the boot protocol (warm boot, falling back to cold boot),
// subscribes to the row store's reactive queries, and starts the
// periodic snapshot timer.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.boot(ctx); err != nil {
		return fmt.Errorf("sync: boot: %w", err)
	}

	unsubEmb := o.rows.Subscribe(rowstore.SelectorNotesRequiringEmbedding, o.onTick)
	unsubOrph := o.rows.Subscribe(rowstore.SelectorOrphanedEmbeddings, o.onTick)
	o.unsubs = []rowstore.Unsubscribe{unsubEmb, unsubOrph}

	o.snapshotTimer = time.NewTicker(o.config.SnapshotInterval)
	o.wg.Add(2)
	go o.reconcileLoop(ctx)
	go o.snapshotLoop(ctx)

	return nil
}

// boot runs the warm-boot path, falling back to cold boot on failure.
func (o *Orchestrator) boot(ctx context.Context) error {
	result, err := persistence.LoadGraph(o.blobs, o.config.SnapshotName, o.config.Dim)
	if err == nil && result != nil {
		o.warmBoot(ctx, result)
		return nil
	}
	if err != nil {
		log.Printf("sync: warm boot load failed, falling back to cold boot: %v", err)
	}
	return o.coldBoot(ctx)
}

func (o *Orchestrator) warmBoot(ctx context.Context, result *persistence.LoadResult) {
	o.engine.ReplaceGraph(result.Graph, result.ExternalKeys, result.Tombstones)

	rows, err := o.rows.QueryEmbeddings(ctx, rowstore.SelectorNotesRequiringEmbedding)
	if err != nil {
		log.Printf("sync: warm boot: querying embedding rows failed: %v", err)
		rows = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, row := range rows {
		o.knownExt[row.Key] = true
		o.knownHash[row.Key] = fingerprint(row.Title, row.Content, row.UpdatedAt, row.Model)
	}
}

// coldBoot iterates every embedding row and rebuilds the graph and
// mappings from scratch via Engine.AddPoint.
func (o *Orchestrator) coldBoot(ctx context.Context) error {
	o.engine.Clear()

	rows, err := o.rows.QueryEmbeddings(ctx, rowstore.SelectorNotesRequiringEmbedding)
	if err != nil {
		return fmt.Errorf("cold boot: query embeddings: %w", err)
	}

	o.mu.Lock()
	o.knownExt = make(map[string]bool, len(rows))
	o.knownHash = make(map[string]string, len(rows))
	o.mu.Unlock()

	for _, row := range rows {
		if err := o.upsertRow(row); err != nil {
			log.Printf("sync: cold boot: skipping row %s: %v", row.Key, err)
			continue
		}
	}
	return nil
}

func (o *Orchestrator) upsertRow(row rowstore.EmbeddingRow) error {
	vec, err := rowstore.DecodeVector(row.VecBytes, o.config.Dim)
	if err != nil {
		return err
	}
	meta := searchengine.Meta{Title: row.Title, ContentPreview: preview(row.Content)}
	if err := o.engine.AddPoint(row.Key, vec, meta); err != nil {
		return err
	}

	o.mu.Lock()
	o.knownExt[row.Key] = true
	o.knownHash[row.Key] = fingerprint(row.Title, row.Content, row.UpdatedAt, row.Model)
	o.mu.Unlock()
	return nil
}

func preview(content string) string {
	const maxLen = 200
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen]
}

// onTick is the subscription callback: non-blocking signal into the
// debounce loop.
func (o *Orchestrator) onTick() {
	select {
	case o.triggers <- struct{}{}:
	default:
	}
}

// reconcileLoop debounces ticks and runs reconcile on each settled burst.
func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		case <-o.triggers:
			o.setState(StateDebouncing)
			select {
			case <-time.After(o.config.Debounce):
			case <-o.stop:
				return
			}
			o.reconcile(ctx)
		}
	}
}

// reconcile is the debounced single-flight delta reconciliation pass.
// Re-entrancy during an in-flight run sets pendingDeltas instead of
// running concurrently.
func (o *Orchestrator) reconcile(ctx context.Context) {
	o.mu.Lock()
	if o.isProcessing {
		o.pendingDeltas = true
		o.mu.Unlock()
		return
	}
	o.isProcessing = true
	o.mu.Unlock()
	o.setState(StateReconciling)

	defer func() {
		o.mu.Lock()
		o.isProcessing = false
		rerun := o.pendingDeltas
		o.pendingDeltas = false
		o.mu.Unlock()
		o.setState(StateIdle)
		if rerun {
			o.onTick()
		}
	}()

	embeddings, err := o.rows.QueryEmbeddings(ctx, rowstore.SelectorNotesRequiringEmbedding)
	if err != nil {
		log.Printf("sync: reconcile: query embeddings failed: %v", err)
		return
	}
	orphaned, err := o.rows.QueryOrphaned(ctx)
	if err != nil {
		log.Printf("sync: reconcile: query orphaned failed: %v", err)
		return
	}

	changed := 0
	for _, row := range embeddings {
		h := fingerprint(row.Title, row.Content, row.UpdatedAt, row.Model)

		o.mu.Lock()
		existingHash, known := o.knownHash[row.Key]
		o.mu.Unlock()

		if known && existingHash == h {
			continue
		}
		if err := o.upsertRow(row); err != nil {
			log.Printf("sync: reconcile: upsert %s failed: %v", row.Key, err)
			continue
		}
		changed++
	}

	for _, o2 := range orphaned {
		o.mu.Lock()
		_, known := o.knownExt[o2.Key]
		o.mu.Unlock()
		if !known {
			continue
		}
		o.engine.RemovePoint(o2.Key)
		o.mu.Lock()
		delete(o.knownExt, o2.Key)
		delete(o.knownHash, o2.Key)
		o.mu.Unlock()
		changed++
	}

	o.mu.Lock()
	o.lastProcessedAt = time.Now()
	o.pendingChangeCount += changed
	crossedThreshold := o.pendingChangeCount >= o.config.ChangesThreshold
	o.mu.Unlock()

	if crossedThreshold {
		if err := o.snapshot(ctx, "threshold"); err != nil {
			log.Printf("sync: reconcile: threshold snapshot failed: %v", err)
		}
	}
}

// snapshotLoop fires the periodic snapshot timer.
func (o *Orchestrator) snapshotLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		case <-o.snapshotTimer.C:
			if err := o.snapshot(ctx, "periodic"); err != nil {
				log.Printf("sync: periodic snapshot failed: %v", err)
			}
		}
	}
}

// snapshot implements the latest+backup protocol: rename latest to
// backup, persist the new latest, and roll back on failure.
func (o *Orchestrator) snapshot(ctx context.Context, reason string) error {
	if o.engine.KnownCount() == 0 {
		return nil
	}

	o.setState(StateSnapshotting)
	defer o.setState(StateIdle)

	if err := persistence.RenameFile(o.blobs, o.config.SnapshotName, o.config.BackupName); err != nil {
		o.recordSnapshotResult(reason, err)
		return fmt.Errorf("sync: rename latest to backup: %w", err)
	}

	graph, extKeys, tombstones := o.engine.Snapshot()
	checksum, err := persistence.PersistGraph(o.blobs, o.config.SnapshotName, graph, extKeys, tombstones, time.Now())
	if err != nil {
		if rbErr := persistence.RenameFile(o.blobs, o.config.BackupName, o.config.SnapshotName); rbErr != nil {
			log.Printf("sync: snapshot rollback also failed: %v", rbErr)
		}
		o.recordSnapshotResult(reason, err)
		return fmt.Errorf("sync: persist snapshot: %w", err)
	}

	o.mu.Lock()
	o.pendingChangeCount = 0
	o.mu.Unlock()

	if err := persistence.GCOldSnapshots(o.blobs, 0); err != nil {
		log.Printf("sync: gc old snapshots failed: %v", err)
	}

	_ = o.rows.Commit(ctx, rowstore.SnapshotCreated{
		FileName:  o.config.SnapshotName,
		Checksum:  checksum,
		NodeCount: o.engine.KnownCount(),
		Ts:        time.Now(),
	})

	o.recordSnapshotResult(reason, nil)
	return nil
}

func (o *Orchestrator) recordSnapshotResult(reason string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastSnapshotAt = time.Now()
	o.lastSnapshotReason = reason
	o.lastSnapshotErr = err
}

// ForceFullRebuild clears the index and known-state, runs cold boot
// again, then triggers a manual snapshot.
func (o *Orchestrator) ForceFullRebuild(ctx context.Context) error {
	o.mu.Lock()
	o.knownExt = make(map[string]bool)
	o.knownHash = make(map[string]string)
	o.pendingChangeCount = 0
	o.mu.Unlock()

	_ = o.rows.Commit(ctx, rowstore.IndexCleared{Ts: time.Now(), Reason: "manual"})

	if err := o.coldBoot(ctx); err != nil {
		return err
	}
	return o.snapshot(ctx, "manual")
}

// ForceSnapshot triggers an out-of-band snapshot, e.g. from the CLI.
func (o *Orchestrator) ForceSnapshot(ctx context.Context) error {
	return o.snapshot(ctx, "manual")
}

// ForceSync runs one reconciliation pass synchronously, bypassing the
// debounce window — used by the CLI's `sync` subcommand. If a pass is
// already in flight, it only marks deltas pending and returns at once;
// the in-flight pass then schedules another run.
func (o *Orchestrator) ForceSync(ctx context.Context) {
	o.reconcile(ctx)
}

// Status returns a point-in-time snapshot of orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:              o.state,
		KnownCount:         o.engine.KnownCount(),
		PendingChangeCount: o.pendingChangeCount,
		LastProcessedAt:    o.lastProcessedAt,
		LastSnapshotAt:     o.lastSnapshotAt,
		LastSnapshotReason: o.lastSnapshotReason,
		LastSnapshotErr:    o.lastSnapshotErr,
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateShutdown {
		return
	}
	o.state = s
}

// Shutdown unsubscribes, stops the timers, and clears in-memory state. No
// final snapshot is taken; the periodic/threshold one is authoritative.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.state == StateShutdown {
		o.mu.Unlock()
		return
	}
	o.state = StateShutdown
	o.mu.Unlock()

	close(o.stop)
	if o.snapshotTimer != nil {
		o.snapshotTimer.Stop()
	}
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.knownExt = make(map[string]bool)
	o.knownHash = make(map[string]string)
	o.mu.Unlock()
}
