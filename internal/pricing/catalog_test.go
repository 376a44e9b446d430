package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_PriceFor(t *testing.T) {
	c, err := New(Defaults()...)
	require.NoError(t, err)

	rc, ok := c.PriceFor("post", "/openai/v1/chat/completions")
	require.True(t, ok)
	assert.Equal(t, int64(60000), rc.PriceMicros)
	assert.Equal(t, "application/json", rc.MimeType)
	assert.Equal(t, "POST /openai/v1/chat/completions", rc.Route.String())

	_, ok = c.PriceFor("GET", "/openai/v1/models")
	assert.False(t, ok)

	_, ok = c.PriceFor("GET", "/openai/v1/chat/completions")
	assert.False(t, ok, "method is part of the key")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(RouteConfig{Route: Route{"GET", "/a"}, PriceMicros: 0})
	assert.Error(t, err)

	_, err = New(RouteConfig{Route: Route{"GET", "a"}, PriceMicros: 1})
	assert.Error(t, err)

	_, err = New(
		RouteConfig{Route: Route{"GET", "/a"}, PriceMicros: 1},
		RouteConfig{Route: Route{"get", "/a"}, PriceMicros: 2},
	)
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - method: post
    path: /openai/v1/chat/completions
    price: "0.1"
    description: Pricier chat
  - method: GET
    path: /reports/:id
    price: "0.005"
    mimeType: text/csv
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, len(Defaults())+1, c.Len())

	rc, ok := c.PriceFor("POST", "/openai/v1/chat/completions")
	require.True(t, ok)
	assert.Equal(t, int64(100000), rc.PriceMicros)
	assert.Equal(t, "Pricier chat", rc.Description)

	rc, ok = c.PriceFor("GET", "/reports/:id")
	require.True(t, ok)
	assert.Equal(t, int64(5000), rc.PriceMicros)
	assert.Equal(t, "text/csv", rc.MimeType)
}

func TestParse_BadPrice(t *testing.T) {
	_, err := Parse([]byte("routes:\n  - method: GET\n    path: /x\n    price: cheap\n"))
	assert.Error(t, err)
}

func TestLoad_ExampleFile(t *testing.T) {
	c, err := Load("../../configs/pricing.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4, c.Len())
	rc, ok := c.PriceFor("POST", "/claude/v1/messages")
	require.True(t, ok)
	assert.Equal(t, int64(80000), rc.PriceMicros)
}
