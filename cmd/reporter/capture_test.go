package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPage(t *testing.T) {
	dir := t.TempDir()
	files := captureFiles{
		URL:     "https://shop.example/thank-you?mid=BA1",
		HTML:    writeFile(t, dir, "page.html", `<html><head><script data-bondai-key="k" data-bondai-mode="manual"></script></head><body>ok</body></html>`),
		Cookies: "bondai_mid=BACOOKIE",
		Local:   writeFile(t, dir, "local.json", `{"bondai_mid":"BASTORAGE"}`),
		Events:  writeFile(t, dir, "events.json", `[{"event":"purchase","value":12.5}]`),
	}

	p, err := loadPage(files)
	require.NoError(t, err)
	assert.Equal(t, "BA1", p.Query().Get("mid"))
	assert.Equal(t, "bondai_mid=BACOOKIE", p.Cookies())
	v, ok, err := p.LocalStorage().GetItem("bondai_mid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BASTORAGE", v)
	require.Len(t, p.EventEntries(), 1)
	assert.Equal(t, "purchase", p.EventEntries()[0].Event())
	assert.Equal(t, "manual", p.ScriptAttributes()["data-bondai-mode"])
}

func TestLoadPageErrors(t *testing.T) {
	_, err := loadPage(captureFiles{})
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = loadPage(captureFiles{URL: "https://a.example", Events: writeFile(t, dir, "bad.json", `{"not":"an array"}`)})
	assert.Error(t, err)

	_, err = loadPage(captureFiles{URL: "https://a.example", HTML: filepath.Join(dir, "missing.html")})
	assert.Error(t, err)
}
