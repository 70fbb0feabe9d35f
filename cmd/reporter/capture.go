package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bondai/universal-reporter/internal/eventlog"
	"github.com/bondai/universal-reporter/internal/page"
)

// captureFiles names the files a saved receipt page is rebuilt from. Every
// field is optional except URL.
type captureFiles struct {
	URL     string
	HTML    string
	Cookies string
	Local   string
	Session string
	Events  string
}

func loadPage(files captureFiles) (*page.Page, error) {
	if strings.TrimSpace(files.URL) == "" {
		return nil, fmt.Errorf("-url is required")
	}
	opts := page.Options{URL: files.URL, Cookies: files.Cookies}

	if files.HTML != "" {
		raw, err := os.ReadFile(files.HTML)
		if err != nil {
			return nil, fmt.Errorf("read html: %w", err)
		}
		opts.HTML = string(raw)
	}

	local, err := loadStorage(files.Local)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	opts.Local = local

	session, err := loadStorage(files.Session)
	if err != nil {
		return nil, fmt.Errorf("session storage: %w", err)
	}
	opts.Session = session

	if files.Events != "" {
		entries, err := loadEvents(files.Events)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		opts.Events = eventlog.New(entries...)
	}
	return page.New(opts)
}

func loadStorage(path string) (*page.MemoryStorage, error) {
	if path == "" {
		return page.NewMemoryStorage(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items map[string]string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return page.NewMemoryStorage(items), nil
}

// loadEvents accepts a JSON array of objects, oldest first.
func loadEvents(path string) ([]eventlog.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []eventlog.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
