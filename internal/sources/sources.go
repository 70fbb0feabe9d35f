// Package sources holds the read-only value adapters the resolution chains draw
// from. Every adapter returns an explicit (Value, bool) result; platform errors
// and panics are absorbed and reported as "not found".
package sources

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/bondai/universal-reporter/internal/eventlog"
	"github.com/bondai/universal-reporter/internal/page"
)

type Source string

const (
	SourceEventLog  Source = "event_log"
	SourceQuery     Source = "query"
	SourceCookie    Source = "cookie"
	SourceStorage   Source = "storage"
	SourceDocument  Source = "document"
	SourceHeuristic Source = "heuristic"
)

// Value is a raw value together with where it came from.
type Value struct {
	Raw    any
	Source Source
	Key    string
}

// String renders Raw the way it would be sent on the wire.
func (v Value) String() string {
	switch raw := v.Raw.(type) {
	case nil:
		return ""
	case string:
		return raw
	default:
		return fmt.Sprint(raw)
	}
}

// Env is the page surface the adapters read. *page.Page satisfies it.
type Env interface {
	EventEntries() []eventlog.Entry
	Query() url.Values
	Cookies() string
	LocalStorage() page.Storage
	SessionStorage() page.Storage
	Document() (*goquery.Document, error)
}

// EventLog scans entries newest first and returns the first entry holding one of
// keys with a non-nil value. A key is looked up literally, then as a dotted path
// into nested objects.
func EventLog(env Env, keys ...string) (Value, bool) {
	return guard(func() (Value, bool) {
		entries := env.EventEntries()
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			if entry == nil {
				continue
			}
			for _, key := range keys {
				if key == "" {
					continue
				}
				if v, ok := lookup(entry, key); ok {
					return Value{Raw: v, Source: SourceEventLog, Key: key}, true
				}
			}
		}
		return Value{}, false
	})
}

func lookup(entry eventlog.Entry, key string) (any, bool) {
	if v, ok := entry[key]; ok && v != nil {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var cur any = map[string]any(entry)
	for _, part := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[part]
		case eventlog.Entry:
			cur = node[part]
		default:
			return nil, false
		}
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Query returns the first key with a non-empty query value.
func Query(env Env, keys ...string) (Value, bool) {
	return guard(func() (Value, bool) {
		q := env.Query()
		for _, key := range keys {
			if key == "" {
				continue
			}
			if v := q.Get(key); v != "" {
				return Value{Raw: v, Source: SourceQuery, Key: key}, true
			}
		}
		return Value{}, false
	})
}

// Cookie returns the first named cookie that occurs exactly once with a non-empty
// value. Values are URL-decoded; a malformed escape means nothing is found.
func Cookie(env Env, names ...string) (Value, bool) {
	return guard(func() (Value, bool) {
		jar := parseCookies(env.Cookies())
		for _, name := range names {
			values := jar[name]
			if len(values) != 1 || values[0] == "" {
				continue
			}
			decoded, err := url.PathUnescape(values[0])
			if err != nil {
				return Value{}, false
			}
			return Value{Raw: decoded, Source: SourceCookie, Key: name}, true
		}
		return Value{}, false
	})
}

func parseCookies(header string) map[string][]string {
	jar := map[string][]string{}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		jar[name] = append(jar[name], strings.TrimSpace(value))
	}
	return jar
}

// Storage tries local storage, then session storage, for the first non-empty key.
// A store that errors is skipped.
func Storage(env Env, keys ...string) (Value, bool) {
	return guard(func() (Value, bool) {
		for _, store := range []page.Storage{env.LocalStorage(), env.SessionStorage()} {
			if store == nil {
				continue
			}
			if v, ok := firstStored(store, keys); ok {
				return v, true
			}
		}
		return Value{}, false
	})
}

func firstStored(store page.Storage, keys []string) (Value, bool) {
	for _, key := range keys {
		v, ok, err := store.GetItem(key)
		if err != nil {
			return Value{}, false
		}
		if ok && v != "" {
			return Value{Raw: v, Source: SourceStorage, Key: key}, true
		}
	}
	return Value{}, false
}

// Text returns the text content of the first element matching selector. A
// matched element with empty text is found with "".
func Text(env Env, selector string) (Value, bool) {
	return guard(func() (Value, bool) {
		sel, ok := first(env, selector)
		if !ok {
			return Value{}, false
		}
		return Value{Raw: sel.Text(), Source: SourceDocument, Key: selector}, true
	})
}

// Attr returns a non-empty attribute of the first element matching selector.
func Attr(env Env, selector, attr string) (Value, bool) {
	return guard(func() (Value, bool) {
		sel, ok := first(env, selector)
		if !ok {
			return Value{}, false
		}
		v, exists := sel.Attr(attr)
		if !exists || v == "" {
			return Value{}, false
		}
		return Value{Raw: v, Source: SourceDocument, Key: selector + "@" + attr}, true
	})
}

func first(env Env, selector string) (*goquery.Selection, bool) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, false
	}
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, false
	}
	doc, err := env.Document()
	if err != nil || doc == nil {
		return nil, false
	}
	sel := doc.FindMatcher(compiled).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return sel, true
}

func guard(fn func() (Value, bool)) (v Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v, ok = Value{}, false
		}
	}()
	return fn()
}
