package pricing

import (
	"fmt"                         // Error formatting
	"net/http"                    // Method names
	"os"                          // File reading
	"strings"                     // String manipulation
	"x402_gateway/internal/money" // Unit parsing

	"gopkg.in/yaml.v3" // YAML parsing
)

// Route identifies a billable endpoint by HTTP method and gin route pattern.
type Route struct {
	Method string // Upper-case HTTP method
	Path   string // gin route pattern, e.g. /sheets/v4/spreadsheets/:spreadsheetId/values/:range
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// RouteConfig is the price and description of a billable route.
type RouteConfig struct {
	Route       Route  // Billable endpoint
	PriceMicros int64  // Price per call
	Description string // Shown in 402 challenges
	MimeType    string // Response type advertised to payers
}

// Catalog is a read-only route to price lookup.
type Catalog struct {
	routes map[Route]RouteConfig
}

// New builds a catalog, rejecting duplicate routes and non-positive prices.
func New(entries ...RouteConfig) (*Catalog, error) {
	c := &Catalog{routes: make(map[Route]RouteConfig, len(entries))}
	for _, e := range entries {
		e.Route.Method = strings.ToUpper(e.Route.Method)
		if e.Route.Method == "" || !strings.HasPrefix(e.Route.Path, "/") {
			return nil, fmt.Errorf("invalid route %q", e.Route)
		}
		if e.PriceMicros <= 0 {
			return nil, fmt.Errorf("route %s: price must be positive", e.Route)
		}
		if _, dup := c.routes[e.Route]; dup {
			return nil, fmt.Errorf("route %s listed twice", e.Route)
		}
		if e.MimeType == "" {
			e.MimeType = "application/json" // Default response type
		}
		c.routes[e.Route] = e
	}
	return c, nil
}

// PriceFor returns the pricing for a method and route pattern. A miss means the route is free.
func (c *Catalog) PriceFor(method, path string) (RouteConfig, bool) {
	rc, ok := c.routes[Route{Method: strings.ToUpper(method), Path: path}]
	return rc, ok
}

// Len returns the number of billable routes.
func (c *Catalog) Len() int {
	return len(c.routes)
}

// Defaults prices the built-in upstream routes.
func Defaults() []RouteConfig {
	return []RouteConfig{
		{Route: Route{http.MethodPost, "/openai/v1/chat/completions"}, PriceMicros: 60000, Description: "OpenAI chat completion"},
		{Route: Route{http.MethodPost, "/claude/v1/messages"}, PriceMicros: 60000, Description: "Claude message"},
		{Route: Route{http.MethodGet, "/sheets/v4/spreadsheets/:spreadsheetId/values/:range"}, PriceMicros: 10000, Description: "Read a Google Sheets range"},
		{Route: Route{http.MethodPut, "/sheets/v4/spreadsheets/:spreadsheetId/values/:range"}, PriceMicros: 20000, Description: "Write a Google Sheets range"},
	}
}

type fileEntry struct {
	Method      string `yaml:"method"`
	Path        string `yaml:"path"`
	Price       string `yaml:"price"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mimeType"`
}

type file struct {
	Routes []fileEntry `yaml:"routes"`
}

// Parse decodes a YAML catalog. Prices are decimal units, e.g. "0.06".
func Parse(data []byte) ([]RouteConfig, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	out := make([]RouteConfig, 0, len(f.Routes))
	for i, e := range f.Routes {
		micros, err := money.ParseUnits(e.Price)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s %s): %w", i, e.Method, e.Path, err)
		}
		out = append(out, RouteConfig{
			Route:       Route{Method: e.Method, Path: e.Path},
			PriceMicros: micros,
			Description: e.Description,
			MimeType:    e.MimeType,
		})
	}
	return out, nil
}

// Load builds the catalog from the defaults, overridden route by route by the file at path if set.
func Load(path string) (*Catalog, error) {
	entries := Defaults()
	if path == "" {
		return New(entries...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	overrides, err := Parse(data)
	if err != nil {
		return nil, err
	}
	byRoute := make(map[Route]int, len(entries))
	for i, e := range entries {
		byRoute[e.Route] = i
	}
	for _, o := range overrides {
		o.Route.Method = strings.ToUpper(o.Route.Method)
		if i, ok := byRoute[o.Route]; ok {
			entries[i] = o
			continue
		}
		byRoute[o.Route] = len(entries)
		entries = append(entries, o)
	}
	return New(entries...)
}
