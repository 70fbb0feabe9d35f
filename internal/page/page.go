// Package page models the merchant page the reporter runs against: its URL,
// cookie string, storage, event log and current HTML document.
package page

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bondai/universal-reporter/internal/eventlog"
	"github.com/google/uuid"
)

const scriptSelector = "script[data-bondai-key]"

type Options struct {
	URL     string
	Cookies string
	HTML    string
	Local   Storage
	Session Storage
	Events  *eventlog.Log
}

// Page is safe for concurrent use. Mutators bump a revision so the parsed
// document is rebuilt lazily on the next read.
type Page struct {
	id      string
	url     *url.URL
	local   Storage
	session Storage
	events  *eventlog.Log

	mu      sync.RWMutex
	cookies string
	html    string
	rev     uint64
	doc     *goquery.Document
	docRev  uint64
	docErr  error

	readyOnce sync.Once
	ready     chan struct{}
}

func New(opts Options) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	p := &Page{
		id:      uuid.NewString(),
		url:     u,
		cookies: opts.Cookies,
		html:    opts.HTML,
		rev:     1,
		local:   opts.Local,
		session: opts.Session,
		events:  opts.Events,
		ready:   make(chan struct{}),
	}
	if p.local == nil {
		p.local = NewMemoryStorage(nil)
	}
	if p.session == nil {
		p.session = NewMemoryStorage(nil)
	}
	if p.events == nil {
		p.events = eventlog.New()
	}
	return p, nil
}

// ID identifies the page lifecycle in logs.
func (p *Page) ID() string { return p.id }

func (p *Page) URL() string { return p.url.String() }

func (p *Page) Query() url.Values { return p.url.Query() }

func (p *Page) Cookies() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cookies
}

// SetCookie writes name=value into the cookie string, replacing any previous
// value. A non-positive maxAge removes the cookie. Expiry is not tracked past the
// page lifetime.
func (p *Page) SetCookie(name, value string, maxAge time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var kept []string
	for _, part := range strings.Split(p.cookies, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, _, _ := strings.Cut(part, "="); strings.TrimSpace(k) == name {
			continue
		}
		kept = append(kept, part)
	}
	if maxAge > 0 {
		kept = append(kept, name+"="+url.PathEscape(value))
	}
	p.cookies = strings.Join(kept, "; ")
}

func (p *Page) LocalStorage() Storage { return p.local }

func (p *Page) SessionStorage() Storage { return p.session }

func (p *Page) Events() *eventlog.Log { return p.events }

// EventEntries is a snapshot of the event log, oldest first.
func (p *Page) EventEntries() []eventlog.Entry { return p.events.Entries() }

// SetHTML replaces the whole document.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
	p.rev++
}

// Document returns the parsed current HTML. The parse is cached per revision;
// callers must treat the result as read-only.
func (p *Page) Document() (*goquery.Document, error) {
	p.mu.RLock()
	if p.doc != nil && p.docRev == p.rev {
		doc, err := p.doc, p.docErr
		p.mu.RUnlock()
		return doc, err
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil || p.docRev != p.rev {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.html))
		p.docRev = p.rev
	}
	return p.doc, p.docErr
}

// MarkReady signals that the document finished loading. Safe to call repeatedly.
func (p *Page) MarkReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Page) Ready() <-chan struct{} { return p.ready }

// ScriptAttributes returns the data-bondai-* attributes of the reporter's
// script tag, or nil when the page does not carry one.
func (p *Page) ScriptAttributes() map[string]string {
	doc, err := p.Document()
	if err != nil || doc == nil {
		return nil
	}
	script := doc.Find(scriptSelector).First()
	if script.Length() == 0 {
		return nil
	}
	attrs := map[string]string{}
	for _, a := range script.Nodes[0].Attr {
		if strings.HasPrefix(a.Key, "data-bondai-") {
			attrs[a.Key] = a.Val
		}
	}
	return attrs
}
