package nuki

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Service domain and names.
const (
	Domain         = "nuki"
	ServiceLockNGo = "lock_n_go"
)

// Service data keys.
const (
	AttrEntityID = "entity_id"
	AttrUnlatch  = "unlatch"
)

// entityMatchAll selects every entity in entity_id.
const entityMatchAll = "all"

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// Schema validates and normalises service call data.
type Schema func(data map[string]any) (map[string]any, error)

// ServiceHandler executes a validated service call.
type ServiceHandler func(ctx context.Context, data map[string]any) error

type registeredService struct {
	schema  Schema
	handler ServiceHandler
}

// ServiceRegistry maps domain.service names to handlers.
//
// Thread Safety: All methods are safe for concurrent use.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]registeredService
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]registeredService)}
}

// Register adds or replaces a service. A nil schema passes data through.
func (r *ServiceRegistry) Register(domain, service string, schema Schema, handler ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceKey(domain, service)] = registeredService{schema: schema, handler: handler}
}

// Has reports whether a service is registered.
func (r *ServiceRegistry) Has(domain, service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[serviceKey(domain, service)]
	return ok
}

// Services returns the registered service names as domain.service, sorted.
func (r *ServiceRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call validates data against the service schema and runs the handler.
func (r *ServiceRegistry) Call(ctx context.Context, domain, service string, data map[string]any) error {
	r.mu.RLock()
	svc, ok := r.services[serviceKey(domain, service)]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, serviceKey(domain, service))
	}

	if data == nil {
		data = map[string]any{}
	}
	if svc.schema != nil {
		validated, err := svc.schema(data)
		if err != nil {
			return err
		}
		data = validated
	}

	return svc.handler(ctx, data)
}

func serviceKey(domain, service string) string {
	return domain + "." + service
}

// lockNGoSchema accepts an optional entity_id and an optional unlatch flag.
// The result holds entity_id as []string (nil when absent) and unlatch as bool.
func lockNGoSchema(data map[string]any) (map[string]any, error) {
	for key := range data {
		if key != AttrEntityID && key != AttrUnlatch {
			return nil, fmt.Errorf("%w: extra key %q", ErrInvalidServiceData, key)
		}
	}

	out := map[string]any{AttrUnlatch: false}

	if raw, ok := data[AttrEntityID]; ok {
		ids, err := parseEntityIDs(raw)
		if err != nil {
			return nil, err
		}
		out[AttrEntityID] = ids
	}

	if raw, ok := data[AttrUnlatch]; ok {
		unlatch, err := parseBoolean(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidServiceData, AttrUnlatch, err)
		}
		out[AttrUnlatch] = unlatch
	}

	return out, nil
}

// parseEntityIDs accepts a comma separated string or a list of strings.
// Ids are lowercased; "all" is kept as is.
func parseEntityIDs(raw any) ([]string, error) {
	var parts []string

	switch v := raw.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(v), entityMatchAll) {
			return []string{entityMatchAll}, nil
		}
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings", ErrInvalidServiceData, AttrEntityID)
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("%w: %s must be a string or list", ErrInvalidServiceData, AttrEntityID)
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.ToLower(strings.TrimSpace(p))
		if id == "" {
			continue
		}
		if !entityIDPattern.MatchString(id) {
			return nil, fmt.Errorf("%w: invalid entity id %q", ErrInvalidServiceData, p)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// parseBoolean accepts booleans, numbers and the usual yes/no words.
func parseBoolean(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on", "enable":
			return true, nil
		case "0", "false", "no", "off", "disable":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean value %q", v)
	case nil:
		return false, errors.New("boolean value is null")
	default:
		return false, fmt.Errorf("invalid boolean value of type %T", raw)
	}
}
