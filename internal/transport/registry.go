package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ProcessMCP/internal/config"
)

// Gateway is a Transport that owns a connection.
type Gateway interface {
	Transport
	Close()
}

// Registry manages a set of gateways keyed by human readable names.
type Registry struct {
	defaultGateway string
	gateways       map[string]Gateway
}

// NewRegistry loads gateway definitions and dials each gateway.
func NewRegistry(ctx context.Context, cfg config.TransportConfig) (*Registry, error) {
	defs, err := LoadGatewayDefinitions(cfg.GatewaysFile)
	if err != nil {
		return nil, err
	}

	gateways := make(map[string]Gateway)
	for name, def := range defs.Gateways {
		kind := strings.ToLower(strings.TrimSpace(def.Type))
		if kind == "" {
			kind = "jsonrpc"
		}
		switch kind {
		case "jsonrpc":
			timeout := time.Duration(def.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = cfg.Timeout()
			}
			rateLimit := def.RateLimit
			if rateLimit <= 0 {
				rateLimit = cfg.RateLimit
			}
			burst := def.Burst
			if burst <= 0 {
				burst = cfg.Burst
			}
			client, err := DialJSONRPC(ctx, ClientConfig{
				Name:      name,
				URL:       def.URL,
				Timeout:   timeout,
				RateLimit: rateLimit,
				Burst:     burst,
				Headers:   def.Headers,
			})
			if err != nil {
				closeAll(gateways)
				return nil, fmt.Errorf("init gateway %s: %w", name, err)
			}
			gateways[name] = client
		default:
			closeAll(gateways)
			return nil, fmt.Errorf("gateway %s uses unsupported type %s", name, def.Type)
		}
	}

	if len(gateways) == 0 {
		return nil, errors.New("no message gateway configured")
	}

	defaultGateway := cfg.DefaultGateway
	if defaultGateway == "" {
		defaultGateway = defs.Default
	}
	if defaultGateway == "" {
		names := make([]string, 0, len(gateways))
		for name := range gateways {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultGateway = names[0]
	}
	if _, ok := gateways[defaultGateway]; !ok {
		closeAll(gateways)
		return nil, fmt.Errorf("default gateway %s not configured", defaultGateway)
	}

	return &Registry{defaultGateway: defaultGateway, gateways: gateways}, nil
}

// NewStaticRegistry builds a registry from already constructed gateways.
func NewStaticRegistry(defaultGateway string, gateways map[string]Gateway) *Registry {
	return &Registry{defaultGateway: defaultGateway, gateways: gateways}
}

// Default returns the gateway configured as default.
func (r *Registry) Default() (Gateway, error) {
	if r == nil {
		return nil, errors.New("gateway registry not initialized")
	}
	gw, ok := r.gateways[r.defaultGateway]
	if !ok {
		return nil, fmt.Errorf("default gateway %s not in registry", r.defaultGateway)
	}
	return gw, nil
}

// Gateway returns the gateway identified by name.
func (r *Registry) Gateway(name string) (Gateway, bool) {
	if r == nil {
		return nil, false
	}
	gw, ok := r.gateways[name]
	return gw, ok
}

// Names returns the registered gateway names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all gateways managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.gateways)
	r.gateways = map[string]Gateway{}
}

func closeAll(gateways map[string]Gateway) {
	for _, gw := range gateways {
		if gw != nil {
			gw.Close()
		}
	}
}
