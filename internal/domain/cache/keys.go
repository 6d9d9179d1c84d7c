package cache

import (
	"context"
	"strings"
)

// Key prefixes, one per cached upstream resource.
const (
	PrefixHubs    = "ajax:hubs"
	PrefixHub     = "ajax:hub"
	PrefixDevices = "ajax:devices"
	PrefixDevice  = "ajax:device"
	PrefixRooms   = "ajax:rooms"
	PrefixGroups  = "ajax:groups"
)

// Prefixes lists every resource prefix, used for stats and tenant-wide
// invalidation.
var Prefixes = []string{PrefixHubs, PrefixHub, PrefixDevices, PrefixDevice, PrefixRooms, PrefixGroups}

func key(parts ...string) string { return strings.Join(parts, ":") }

func HubsKey(tenant string) string               { return key(PrefixHubs, tenant) }
func HubKey(tenant, hubID string) string         { return key(PrefixHub, tenant, hubID) }
func DevicesKey(tenant, hubID string) string     { return key(PrefixDevices, tenant, hubID) }
func DeviceKey(tenant, hubID, dev string) string { return key(PrefixDevice, tenant, hubID, dev) }
func RoomsKey(tenant, hubID string) string       { return key(PrefixRooms, tenant, hubID) }
func GroupsKey(tenant, hubID string) string      { return key(PrefixGroups, tenant, hubID) }

// Resource returns the resource name of a key ("hubs" for "ajax:hubs:t").
func Resource(k string) string {
	parts := strings.SplitN(k, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

// InvalidateHub evicts the hub detail, its device list, and every cached
// device detail under the hub.
func (c *Cache) InvalidateHub(ctx context.Context, tenant, hubID string) {
	c.Invalidate(ctx, HubKey(tenant, hubID), DevicesKey(tenant, hubID))
	c.InvalidatePattern(ctx, key(PrefixDevice, tenant, hubID)+":")
}

// InvalidateTenant evicts every cached entry of a tenant and returns how many
// keys were removed.
func (c *Cache) InvalidateTenant(ctx context.Context, tenant string) int64 {
	n := c.Invalidate(ctx, HubsKey(tenant))
	for _, p := range Prefixes[1:] {
		n += c.InvalidatePattern(ctx, key(p, tenant)+":")
	}
	return n
}

// Stats counts cached keys per resource.
func (c *Cache) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(Prefixes)+1)
	var total int64
	for _, p := range Prefixes {
		n, err := c.backend.CountPrefix(ctx, p+":")
		if err != nil {
			return nil, &Error{Op: "stats", Key: p, Err: err}
		}
		stats[Resource(p)] = n
		total += n
	}
	stats["total"] = total
	return stats, nil
}
