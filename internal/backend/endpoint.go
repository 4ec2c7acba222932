package backend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SchemeLocal is the scheme name for local filesystem endpoints.
// Endpoint descriptors without a "scheme://" prefix resolve to it.
const SchemeLocal = "local"

// Constructor builds a backend instance for one endpoint. deviceID is
// empty when the descriptor did not name a device; remote backends then
// bind lazily to the sole attached device.
type Constructor func(deviceID string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register associates a scheme with a backend constructor. It is called
// from implementation packages' init() functions.
func Register(scheme string, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = fn
}

// RegisteredSchemes returns the known schemes, sorted.
func RegisteredSchemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Endpoint is one parsed side of a sync: a backend scheme, an optional
// device binding, and an absolute root.
type Endpoint struct {
	// Raw is the descriptor as given.
	Raw string

	// Scheme selects the backend implementation.
	Scheme string

	// DeviceID is the remote device identifier, empty for local
	// endpoints or when the sole attached device should be used.
	DeviceID string

	// Root is the absolute root locator on the backend.
	Root string
}

// IsRemote reports whether the endpoint is not a local path.
func (e Endpoint) IsRemote() bool {
	return e.Scheme != SchemeLocal
}

// ParseEndpoint parses an endpoint descriptor. Two forms are accepted:
//
//	/absolute/or/relative/local/path
//	adb://device:<serial>/<absolute remote path>
//	adb://<absolute remote path>        (auto-select sole device)
//
// Parsing is pure; no device or filesystem access happens here.
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint descriptor")
	}

	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		abs, err := filepath.Abs(s)
		if err != nil {
			return Endpoint{}, fmt.Errorf("resolving local endpoint %q: %w", s, err)
		}
		return Endpoint{Raw: s, Scheme: SchemeLocal, Root: abs}, nil
	}

	ep := Endpoint{Raw: s, Scheme: scheme}
	if dev, ok := strings.CutPrefix(rest, "device:"); ok {
		id, root, _ := strings.Cut(dev, "/")
		if id == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q: empty device id", s)
		}
		ep.DeviceID = id
		ep.Root = "/" + root
	} else {
		ep.Root = "/" + strings.TrimLeft(rest, "/")
	}
	return ep, nil
}

// Connect creates the backend instance for this endpoint using the
// registered constructor for its scheme.
func (e Endpoint) Connect() (Backend, error) {
	registryMu.RLock()
	fn := registry[e.Scheme]
	registryMu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("no backend registered for scheme %q (available: %v)",
			e.Scheme, RegisteredSchemes())
	}
	b, err := fn(e.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", e.Scheme, err)
	}
	return b, nil
}
