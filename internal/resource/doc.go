// Package resource limits the background work of indexes sharing a
// Controller.
//
// Two resources are governed:
//
//   - Background slots: a weighted semaphore bounding how many index
//     builders run at once.
//   - Snapshot I/O: a token bucket in bytes per second applied to
//     constellation snapshot writes, so persistence does not starve
//     foreground inserts and queries.
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// All methods accept a nil *Controller and then impose no limit.
package resource
