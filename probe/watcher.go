package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/expscope/finding"
)

// Watcher observes scripts injected after the initial scan and reports
// the ones whose src contains a known loader fragment. It never touches
// the accumulator: detections go to the Env's late channel, which the
// watcher closes when its window elapses.
type Watcher struct{}

func (Watcher) Name() string { return "watcher" }

func (Watcher) Probe(ctx context.Context, env *Env) {
	w := env.Page.Watcher()
	if w == nil || env.WatchWindow <= 0 {
		return
	}
	env.check("watcher/start", func() error {
		wctx, cancel := context.WithTimeout(ctx, env.WatchWindow)
		srcs, err := w.WatchScripts(wctx, env.WatchWindow)
		if err != nil {
			cancel()
			return fmt.Errorf("watch scripts: %w", err)
		}
		env.watching = true
		go watchLoaders(wctx, cancel, srcs, env)
		return nil
	})
}

func watchLoaders(ctx context.Context, cancel context.CancelFunc, srcs <-chan string, env *Env) {
	defer close(env.late)
	defer cancel()

	loaders := env.Registry.Loaders()
	logger := env.Logger
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case src, ok := <-srcs:
			if !ok {
				return
			}
			for _, l := range loaders {
				if seen[l.Platform] || !containsAny(src, l.Fragments) {
					continue
				}
				seen[l.Platform] = true
				logger.Info("probe: late script detected", "platform", l.Platform, "src", src)
				rec := finding.DetectionRecord{
					Name:           l.Platform,
					Category:       finding.CategoryPlatform,
					EvidenceKind:   finding.EvidenceDynamicScript,
					EvidenceSource: l.Source,
					Details:        map[string]any{"scriptSrc": strings.TrimSpace(src)},
				}
				select {
				case env.late <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
