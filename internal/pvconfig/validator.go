package pvconfig

import (
	"context"
	"fmt"
	"time"

	"pvimport/internal/models"
)

// ObjectSource is the slice of the data access layer the validator needs.
type ObjectSource interface {
	Object(ctx context.Context, id uint) (*models.Object, error)
}

// Prober checks that a channel answers on the bus within the timeout.
type Prober func(name string, timeout time.Duration) bool

// Validator runs the pre-flight configuration checks. It fails on the
// first violated rule; the engine must not start on any failure.
type Validator struct {
	Objects      ObjectSource
	Probe        Prober
	ProbeTimeout time.Duration
	FullName     func(short string) string // short→full channel name translation
}

// Validate applies the rules in order: ids present, ids unique, at least
// one PV per record, every object exists, every declared channel
// answers a probe. Channels owned by external feed discovery are exempt
// from probing.
func (v *Validator) Validate(ctx context.Context, entries []Entry, feedOwned map[string]bool) error {
	seen := map[uint]bool{}
	for _, e := range entries {
		if e.ObjectID == 0 {
			return fmt.Errorf("%w: record with missing object id", ErrConfig)
		}
		if seen[e.ObjectID] {
			return fmt.Errorf("%w: duplicate object id %d", ErrConfig, e.ObjectID)
		}
		seen[e.ObjectID] = true
	}

	for _, e := range entries {
		if !e.HasChannels() {
			return fmt.Errorf("%w: object %d has no measurement PVs", ErrConfig, e.ObjectID)
		}
	}

	for _, e := range entries {
		obj, err := v.Objects.Object(ctx, e.ObjectID)
		if err != nil {
			return fmt.Errorf("object lookup for %d: %w", e.ObjectID, err)
		}
		if obj == nil {
			return fmt.Errorf("%w: object %d does not exist in the database", ErrConfig, e.ObjectID)
		}
	}

	probed := map[string]bool{}
	for _, e := range entries {
		for _, short := range e.ChannelNames() {
			full := short
			if v.FullName != nil {
				full = v.FullName(short)
			}
			if probed[full] || feedOwned[full] {
				continue
			}
			probed[full] = true
			if !v.Probe(full, v.ProbeTimeout) {
				return fmt.Errorf("%w: channel %s did not answer within %s", ErrConfig, full, v.ProbeTimeout)
			}
		}
	}
	return nil
}
