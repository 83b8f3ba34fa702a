package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	"regionline/internal/action"
	"regionline/internal/wire"
)

// Preload fetches the regions of req speculatively under key. The request is
// silent and carries no actions; the response is kept until a real update
// with the same key consumes it.
func (c *Coordinator) Preload(ctx context.Context, key string, req Request) Outcome {
	req.Preloading = true
	req.PreloadKey = key
	req.Actions = []string{}
	req.ActionArguments = nil
	req.HideWaitFrame = true
	return c.Run(ctx, req)
}

// Preloaded reports whether a completed preload is cached under key.
func (c *Coordinator) Preloaded(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preloaded.Contains(key)
}

type keyDescriptor struct {
	Region  string            `json:"region"`
	Path    string            `json:"path"`
	Args    map[string]string `json:"args"`
	Element string            `json:"element,omitempty"`
	Mode    Mode              `json:"mode,omitempty"`
}

// PreloadKey derives a stable key from the region descriptors of a request.
// Descriptors that differ only in map ordering yield the same key.
func PreloadKey(fragments []FragmentRequest) string {
	descs := make([]keyDescriptor, 0, len(fragments))
	for _, f := range fragments {
		descs = append(descs, keyDescriptor{
			Region:  f.Region,
			Path:    f.Path,
			Args:    f.Args,
			Element: f.Element,
			Mode:    f.Mode,
		})
	}
	raw, err := json.Marshal(descs)
	if err == nil {
		if canon, cerr := jcs.Transform(raw); cerr == nil {
			raw = canon
		}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// finishPreload settles a preload exchange. Real updates that asked for the
// same key meanwhile are completed with the response, in the order they
// asked; on failure the first of them alerts and all are released.
func (c *Coordinator) finishPreload(ctx context.Context, cy *cycle, resp *wire.Response, err error) Outcome {
	key := cy.req.PreloadKey
	delete(c.preloading, key)
	waiting := c.wanted[key]
	delete(c.wanted, key)

	if err != nil {
		c.logger.Warn("preload failed", "key", key, "err", err)
		c.lastFailure = &Failure{Request: cy.wire, Err: err, At: time.Now()}
		if len(waiting) == 0 {
			return Outcome{Err: err}
		}
		out := c.fail(waiting[0], err)
		for _, w := range waiting[1:] {
			action.EnableInputFields(w.disabled)
			c.release(w)
		}
		return out
	}
	if len(waiting) == 0 {
		c.preloaded.Add(key, resp)
		return Outcome{}
	}
	c.logger.Debug("preload wanted", "key", key, "waiting", len(waiting))
	var out Outcome
	for _, w := range waiting {
		out = c.complete(ctx, w, resp)
	}
	return out
}

// drain replays the preloads queued behind action submissions. They are
// planned in order under the lock and exchanged concurrently.
func (c *Coordinator) drain(ctx context.Context) {
	queued := c.queued
	c.queued = nil
	ctx = context.WithoutCancel(ctx)
	for i := range queued {
		req := queued[i]
		cy, out, ok := c.begin(ctx, &req)
		if !ok {
			c.logger.Debug("queued preload settled without exchange", "key", req.PreloadKey, "outcome", outcomeKind(out).Value.AsString())
			continue
		}
		c.replays.Go(func() {
			ctx, span := c.metrics.tracer.Start(ctx, "update.preload.replay")
			defer span.End()
			c.metrics.record(ctx, c.exchange(ctx, cy))
		})
	}
}
