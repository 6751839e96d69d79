package systems

import (
	"fmt"
	"slices"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Turns a host asset of type A into a GPU resource P, going through a
 * plain snapshot E that is safe to hand to another goroutine.
 */
type VulkanAsset[A, E, P any] interface {
	Kind() assets.Kind
	/**
	 * @brief Runs on the main thread. Returning false means the asset could
	 * not be extracted yet, usually because a dependency is not prepared; it
	 * is retried when that dependency changes.
	 */
	Extract(h assets.Handle, asset A) (E, bool)
	/**
	 * @brief Runs on the asset type's worker with the worker's own command
	 * context, and may block on the GPU.
	 */
	Prepare(rd *renderer.RenderDevice, cmds *renderer.CommandContext, extracted E) (P, error)
	// Destroy routes every GPU object of prepared through q.
	Destroy(prepared P, q *renderer.DestructionQueue)
}

// ComposedAsset is implemented by asset types that read other assets during
// Extract. A change of any dependency re-extracts the dependent.
type ComposedAsset[A any] interface {
	Dependencies(asset A) []assets.Handle
}

/**
 * @brief The prepared values of one asset type. Entries are written by
 * Publish only and replaced, never removed, while the pipeline runs.
 */
type PreparedAssets[P any] struct {
	mu         sync.RWMutex
	entries    map[assets.Handle]P
	generation uint64
}

func NewPreparedAssets[P any]() *PreparedAssets[P] {
	return &PreparedAssets[P]{entries: map[assets.Handle]P{}}
}

func (pa *PreparedAssets[P]) Get(h assets.Handle) (P, bool) {
	pa.mu.RLock()
	defer pa.mu.RUnlock()
	p, ok := pa.entries[h]
	return p, ok
}

func (pa *PreparedAssets[P]) Len() int {
	pa.mu.RLock()
	defer pa.mu.RUnlock()
	return len(pa.entries)
}

// Handles lists the prepared handles in handle order.
func (pa *PreparedAssets[P]) Handles() []assets.Handle {
	pa.mu.RLock()
	handles := make([]assets.Handle, 0, len(pa.entries))
	for h := range pa.entries {
		handles = append(handles, h)
	}
	pa.mu.RUnlock()
	slices.SortFunc(handles, assets.Handle.Compare)
	return handles
}

// Generation changes every time an entry is installed.
func (pa *PreparedAssets[P]) Generation() uint64 {
	pa.mu.RLock()
	defer pa.mu.RUnlock()
	return pa.generation
}

func (pa *PreparedAssets[P]) install(h assets.Handle, p P) (P, bool) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	old, replaced := pa.entries[h]
	pa.entries[h] = p
	pa.generation++
	return old, replaced
}

func (pa *PreparedAssets[P]) takeAll() map[assets.Handle]P {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	entries := pa.entries
	pa.entries = map[assets.Handle]P{}
	pa.generation++
	return entries
}

type preparedResult[P any] struct {
	handle assets.Handle
	value  P
}

/**
 * @brief Drives one asset type through extract (main thread), prepare (a
 * dedicated single worker) and publish (main thread). Both stage boundaries
 * are FIFO queues, so the edits of one handle are published in the order
 * they were extracted.
 */
type AssetPipeline[A, E, P any] struct {
	asset  VulkanAsset[A, E, P]
	server *assets.Server
	rd     *renderer.RenderDevice
	queue  *renderer.DestructionQueue

	events     *assets.Subscription
	depEvents  []*assets.Subscription
	deps       *DependencyIndex
	onPublish  []func(assets.Handle)
	stopLogged bool

	cmds     *renderer.CommandContext
	jobs     *JobSystem
	results  *containers.UnboundedQueue[preparedResult[P]]
	inflight sync.WaitGroup

	prepared *PreparedAssets[P]
}

func NewAssetPipeline[A, E, P any](asset VulkanAsset[A, E, P], server *assets.Server, rd *renderer.RenderDevice, q *renderer.DestructionQueue) (*AssetPipeline[A, E, P], error) {
	kind := asset.Kind()
	cmds, err := rd.NewCommandContext("prepare-" + kind.String())
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobSystem(kind.String(), 1)
	if err != nil {
		cmds.Destroy()
		return nil, err
	}
	return &AssetPipeline[A, E, P]{
		asset:    asset,
		server:   server,
		rd:       rd,
		queue:    q,
		events:   server.Subscribe(kind),
		deps:     NewDependencyIndex(),
		cmds:     cmds,
		jobs:     jobs,
		results:  containers.NewUnboundedQueue[preparedResult[P]](),
		prepared: NewPreparedAssets[P](),
	}, nil
}

func (ap *AssetPipeline[A, E, P]) Kind() assets.Kind {
	return ap.asset.Kind()
}

func (ap *AssetPipeline[A, E, P]) Prepared() *PreparedAssets[P] {
	return ap.prepared
}

func (ap *AssetPipeline[A, E, P]) Dependencies() *DependencyIndex {
	return ap.deps
}

// DependsOn promotes host events of kind into changes of the assets that
// depend on the changed handle.
func (ap *AssetPipeline[A, E, P]) DependsOn(kind assets.Kind) {
	ap.depEvents = append(ap.depEvents, ap.server.Subscribe(kind))
}

// Invalidate re-extracts, on the next Extract, every asset depending on dep.
func (ap *AssetPipeline[A, E, P]) Invalidate(dep assets.Handle) {
	ap.deps.Touch(dep)
}

// OnPublish registers fn to run on the main thread after each install.
func (ap *AssetPipeline[A, E, P]) OnPublish(fn func(assets.Handle)) {
	ap.onPublish = append(ap.onPublish, fn)
}

// Stopped reports whether a fatal Prepare failure stopped the worker.
func (ap *AssetPipeline[A, E, P]) Stopped() bool {
	return ap.jobs.Stopped()
}

/**
 * @brief Extracts every asset created or modified since the last call,
 * including the dependents of changed dependencies, and queues them for the
 * worker. Returns how many were queued.
 */
func (ap *AssetPipeline[A, E, P]) Extract() int {
	var order []assets.Handle
	seen := map[assets.Handle]struct{}{}
	add := func(h assets.Handle) {
		if _, dup := seen[h]; !dup {
			seen[h] = struct{}{}
			order = append(order, h)
		}
	}

	for _, e := range ap.events.Drain() {
		switch e.Type {
		case assets.EventCreated, assets.EventModified:
			add(e.Handle)
		case assets.EventRemoved:
			core.LogDebug("%s %s removed, its prepared value stays until replaced", e.Kind, e.Handle)
		}
	}
	for _, sub := range ap.depEvents {
		for _, e := range sub.Drain() {
			ap.deps.Touch(e.Handle)
		}
	}
	for _, h := range ap.deps.Take() {
		add(h)
	}

	queued := 0
	for _, h := range order {
		if ap.extract(h) {
			queued++
		}
	}
	return queued
}

func (ap *AssetPipeline[A, E, P]) extract(h assets.Handle) bool {
	kind := ap.asset.Kind()
	value, ok := ap.server.Resolve(h)
	if !ok {
		core.LogDebug("%s %s is gone, nothing to extract", kind, h)
		return false
	}
	asset, ok := value.(A)
	if !ok {
		core.LogWarn("%s %s holds a %T", kind, h, value)
		return false
	}
	if composed, ok := ap.asset.(ComposedAsset[A]); ok {
		ap.deps.Track(h, composed.Dependencies(asset))
	}

	extracted, ok := ap.asset.Extract(h, asset)
	if !ok {
		core.MetricsCounters().ExtractionsSkipped.Add(1)
		core.LogDebug("%s %s could not be extracted yet", kind, h)
		return false
	}
	return ap.submit(h, extracted)
}

func (ap *AssetPipeline[A, E, P]) submit(h assets.Handle, extracted E) bool {
	kind := ap.asset.Kind()
	ap.inflight.Add(1)
	err := ap.jobs.Submit(metadata.JobTask{
		JobType: metadata.JOB_TYPE_GPU_RESOURCE,
		Name:    fmt.Sprintf("prepare %s %s", kind, h),
		OnStart: func() error {
			p, err := ap.asset.Prepare(ap.rd, ap.cmds, extracted)
			if err != nil {
				return core.Wrapf(err, "preparing %s %s", kind, h)
			}
			core.MetricsCounters().AssetsPrepared.Add(1)
			if err := ap.results.Push(preparedResult[P]{handle: h, value: p}); err != nil {
				ap.asset.Destroy(p, ap.queue)
			}
			return nil
		},
		OnComplete: ap.inflight.Done,
		OnFailure:  func(error) { ap.inflight.Done() },
	})
	if err != nil {
		ap.inflight.Done()
		if !ap.stopLogged {
			core.LogError("%s pipeline no longer prepares assets: %s", kind, err.Error())
			ap.stopLogged = true
		}
		return false
	}
	return true
}

/**
 * @brief Installs everything the worker finished since the last call, in
 * completion order. A replaced value is routed to the destruction queue.
 * Returns how many values were installed.
 */
func (ap *AssetPipeline[A, E, P]) Publish() int {
	n := 0
	for {
		r, ok := ap.results.TryPop()
		if !ok {
			break
		}
		if old, replaced := ap.prepared.install(r.handle, r.value); replaced {
			ap.asset.Destroy(old, ap.queue)
		}
		core.MetricsCounters().AssetsPublished.Add(1)
		for _, fn := range ap.onPublish {
			fn(r.handle)
		}
		n++
	}
	return n
}

// Update runs Extract then Publish.
func (ap *AssetPipeline[A, E, P]) Update() {
	ap.Extract()
	ap.Publish()
}

// WaitIdle blocks until the worker finished every extracted asset.
func (ap *AssetPipeline[A, E, P]) WaitIdle() {
	ap.inflight.Wait()
}

/**
 * @brief Stops the worker, then routes every prepared value, published or
 * not, to q. The pipeline cannot be used afterwards.
 */
func (ap *AssetPipeline[A, E, P]) Shutdown() error {
	if err := ap.jobs.Shutdown(); err != nil {
		return err
	}
	ap.results.Close()
	for {
		r, ok := ap.results.TryPop()
		if !ok {
			break
		}
		ap.asset.Destroy(r.value, ap.queue)
	}
	entries := ap.prepared.takeAll()
	handles := make([]assets.Handle, 0, len(entries))
	for h := range entries {
		handles = append(handles, h)
	}
	slices.SortFunc(handles, assets.Handle.Compare)
	for _, h := range handles {
		ap.asset.Destroy(entries[h], ap.queue)
	}
	ap.cmds.Destroy()
	core.LogDebug("%s pipeline shut down, %d prepared assets released", ap.asset.Kind(), len(handles))
	return nil
}
