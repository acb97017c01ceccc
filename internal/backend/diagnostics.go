package backend

import (
	"strings"
	"sync"
	"time"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
)

// published is the last diagnostics set pushed for a file.
type published struct {
	version int
	key     string
}

// publisher recomputes the diagnostics of editor files a quiet period after
// they, or files they depend on, change, and pushes them when they differ
// from what was last pushed. Files analyzed with the fallback language get
// no pushed diagnostics.
type publisher struct {
	b        *Backend
	debounce time.Duration

	mu     sync.Mutex
	closed bool
	timers map[string]*time.Timer
	last   map[string]published
}

func newPublisher(b *Backend, debounce time.Duration) *publisher {
	return &publisher{
		b:        b,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		last:     make(map[string]published),
	}
}

// schedule restarts the quiet period of uri.
func (p *publisher) schedule(uri string) {
	if p.b.notifier == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if t, ok := p.timers[uri]; ok {
		t.Stop()
	}
	p.timers[uri] = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		delete(p.timers, uri)
		p.mu.Unlock()
		p.b.goBackground(func() { p.refresh(uri) })
	})
}

func (p *publisher) refresh(uri string) {
	st, err := p.b.ws.Status(uri)
	if err != nil || st.Origin != document.OriginEditor || st.Fallback {
		return
	}
	res, err := p.b.RequestFeature(p.b.ctx, feature.Diagnostics, uri, document.Position{})
	if err != nil {
		if p.b.ctx.Err() == nil {
			log.Debugf("diagnostics for %s: %v", uri, err)
		}
		return
	}

	keys := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		keys = append(keys, feature.Key(feature.Diagnostics, it))
	}
	key := strings.Join(keys, "\n")

	p.mu.Lock()
	last, seen := p.last[uri]
	if p.closed || seen && (last.version > res.Version || last.key == key) {
		p.mu.Unlock()
		return
	}
	p.last[uri] = published{version: res.Version, key: key}
	p.mu.Unlock()

	log.Debugf("publishing %d diagnostics for %s v%d", len(res.Items), uri, res.Version)
	p.b.notifier.PublishDiagnostics(uri, res.Version, res.Items)
}

// clear cancels pending work for a closed file and retracts its diagnostics.
func (p *publisher) clear(uri string) {
	if p.b.notifier == nil {
		return
	}
	p.mu.Lock()
	if t, ok := p.timers[uri]; ok {
		t.Stop()
		delete(p.timers, uri)
	}
	last, seen := p.last[uri]
	delete(p.last, uri)
	closed := p.closed
	p.mu.Unlock()

	if seen && last.key != "" && !closed {
		p.b.notifier.PublishDiagnostics(uri, last.version, []feature.Item{})
	}
}

func (p *publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for uri, t := range p.timers {
		t.Stop()
		delete(p.timers, uri)
	}
}
