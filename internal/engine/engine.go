// Package engine runs the import loop: it pulls channel values from the
// cache at each object's cadence and persists measurement rows through
// the data access layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pvimport/config"
	"pvimport/internal/db"
	"pvimport/internal/feeds"
	"pvimport/internal/logs"
	"pvimport/internal/metrics"
	"pvimport/internal/pvconfig"
)

// ExternalFeedsKey is the scheduler slot for external feed discovery,
// which runs on its own, slower cadence.
const ExternalFeedsKey = "EXTERNAL_FEEDS"

const externalFeedsInterval = 3600 * time.Second

// DataAccess is the slice of the repository the scheduler drives.
type DataAccess interface {
	AddMeasurement(ctx context.Context, objectID uint, values map[int]any) (uint, error)
	ObjectIDByName(ctx context.Context, name string) (uint, bool, error)
	AddObject(ctx context.Context, name string, typeID uint, displayGroupID *uint, comment *string) (uint, error)
}

// ValueSource is the slice of the channel cache the scheduler reads.
type ValueSource interface {
	Get(name string) (any, bool)
	Stale(name string, threshold time.Duration) bool
}

type State int

const (
	Idle State = iota
	Running
	Stopped
)

// Engine owns the scheduler state. Construct with New, then Run once.
type Engine struct {
	ca        config.CASettings
	loopTimer time.Duration

	data    DataAccess
	values  ValueSource
	store   *pvconfig.Store
	feeds   []feeds.Feed
	metrics *metrics.Metrics

	nextFire map[string]time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, data DataAccess, values ValueSource, store *pvconfig.Store, fds []feeds.Feed, m *metrics.Metrics) *Engine {
	return &Engine{
		ca:        cfg.CA,
		loopTimer: cfg.Loop.Timer(),
		data:      data,
		values:    values,
		store:     store,
		feeds:     fds,
		metrics:   m,
		nextFire:  map[string]time.Time{}, // zero times: everything due at once
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run blocks until the context is cancelled or the database session is
// terminally lost. Each tick is isolated: any other failure is logged
// and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.setState(Running, cancel)
	defer e.setState(Stopped, nil)

	logs.Logger.Infof("import loop started (%d records, timer %s)",
		len(e.store.Entries()), e.loopTimer)

	for {
		if err := e.sleep(ctx, e.loopTimer); err != nil {
			return nil
		}
		if err := e.runOnce(ctx); err != nil {
			return err
		}
	}
}

// Stop cancels the loop cooperatively; it exits at the top of the next
// iteration. In-flight database writes complete first.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State, cancel context.CancelFunc) {
	e.mu.Lock()
	e.state = s
	e.cancel = cancel
	e.mu.Unlock()
}

// runOnce processes one scheduler iteration: every due object, then the
// external feeds slot.
func (e *Engine) runOnce(ctx context.Context) error {
	now := e.now()

	for _, entry := range e.store.Entries() {
		key := fmt.Sprintf("%d", entry.ObjectID)
		if e.nextFire[key].After(now) {
			continue
		}
		e.nextFire[key] = now.Add(time.Duration(entry.LoggingPeriod) * time.Minute)
		e.metrics.TicksTotal.Inc()

		if err := e.tickObject(ctx, entry); err != nil {
			if errors.Is(err, db.ErrConnectionLost) || errors.Is(err, context.Canceled) {
				return err
			}
			e.metrics.TickErrors.Inc()
			logs.Logger.WithError(err).Errorf("import tick failed for object %d", entry.ObjectID)
		}
	}

	if !e.nextFire[ExternalFeedsKey].After(now) {
		e.nextFire[ExternalFeedsKey] = now.Add(externalFeedsInterval)
		if err := e.runFeeds(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) tickObject(ctx context.Context, entry pvconfig.Entry) error {
	slots := map[int]string{}
	for slot := 1; slot <= pvconfig.SlotCount; slot++ {
		if short, ok := entry.Channel(slot); ok {
			slots[slot] = e.ca.FullName(short)
		}
	}

	values := e.assembleValues(slots, false)
	if len(values) == 0 {
		logs.Logger.Warnf("no PV values for object %d, skipping", entry.ObjectID)
		return nil
	}

	if _, err := e.data.AddMeasurement(ctx, entry.ObjectID, values); err != nil {
		return err
	}
	e.metrics.MeasurementsWritten.Inc()
	return nil
}

// assembleValues builds the slot→scalar map from the cache. Stale
// channels are dropped unless the per-call ignoreStale override or the
// global add-stale setting says otherwise; the override always wins.
func (e *Engine) assembleValues(slots map[int]string, ignoreStale bool) map[int]any {
	out := map[int]any{}
	for slot, channel := range slots {
		if channel == "" {
			continue
		}
		if e.values.Stale(channel, e.ca.StaleThreshold()) && !ignoreStale && !e.ca.AddStalePVs {
			logs.Logger.Debugf("channel %s is stale, dropping slot %d", channel, slot)
			e.metrics.StaleSkips.Inc()
			continue
		}
		v, ok := e.values.Get(channel)
		if !ok {
			logs.Logger.Debugf("channel %s has no value yet, dropping slot %d", channel, slot)
			continue
		}
		out[slot] = v
	}
	return out
}

func (e *Engine) runFeeds(ctx context.Context) error {
	for _, f := range e.feeds {
		perObject, err := f.PerObjectChannels()
		if err != nil {
			logs.Logger.WithError(err).Warnf("feed %s discovery failed", f.Name())
			continue
		}
		for objName, channels := range perObject {
			slots := map[int]string{}
			for i, ch := range channels {
				if i >= pvconfig.SlotCount {
					break
				}
				slots[i+1] = ch
			}
			values := e.assembleValues(slots, true)
			if len(values) == 0 {
				continue
			}

			objID, err := e.objectForFeed(ctx, objName, f)
			if err == nil {
				_, err = e.data.AddMeasurement(ctx, objID, values)
			}
			if err != nil {
				if errors.Is(err, db.ErrConnectionLost) || errors.Is(err, context.Canceled) {
					return err
				}
				e.metrics.TickErrors.Inc()
				logs.Logger.WithError(err).Errorf("feed %s import failed for %q", f.Name(), objName)
				continue
			}
			e.metrics.MeasurementsWritten.Inc()
		}
	}
	return nil
}

// objectForFeed resolves a synthetic feed object, creating it on first
// sight. Feed objects never get a module child.
func (e *Engine) objectForFeed(ctx context.Context, name string, f feeds.Feed) (uint, error) {
	id, found, err := e.data.ObjectIDByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}
	comment := fmt.Sprintf("Non-PLC PVs (%s)", f.Name())
	id, err = e.data.AddObject(ctx, name, f.ObjectTypeID(), nil, &comment)
	if err != nil {
		return 0, err
	}
	logs.Logger.Infof("created object %d %q for feed %s", id, name, f.Name())
	return id, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
