package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/cache"
	"github.com/virapa/AjaxSecurFlow/internal/domain/fault"
	"github.com/virapa/AjaxSecurFlow/internal/domain/hub"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
)

// CacheTTLs holds the cache lifetime of each resource.
type CacheTTLs struct {
	Hubs    time.Duration
	Hub     time.Duration
	Devices time.Duration
	Device  time.Duration
	Rooms   time.Duration
	Groups  time.Duration
}

// DefaultCacheTTLs returns the standard resource lifetimes.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Hubs:    300 * time.Second,
		Hub:     60 * time.Second,
		Devices: 120 * time.Second,
		Device:  10 * time.Second,
		Rooms:   600 * time.Second,
		Groups:  300 * time.Second,
	}
}

// HubService exposes the tenant's hubs and their resources with canonical
// field names.
type HubService struct {
	gw     *GatewayClient
	cache  *cache.Cache
	ttl    CacheTTLs
	events audit.Recorder
	logger *slog.Logger
}

// NewHubService creates a hub service. events may be nil.
func NewHubService(gw *GatewayClient, c *cache.Cache, ttl CacheTTLs, events audit.Recorder, logger *slog.Logger) *HubService {
	return &HubService{gw: gw, cache: c, ttl: ttl, events: events, logger: logger}
}

// Hubs lists the tenant's hubs, each merged with its detail. A hub whose
// detail cannot be fetched is returned from its summary alone.
func (s *HubService) Hubs(ctx context.Context, tenant string) ([]hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.HubsKey(tenant), s.ttl.Hubs, func(ctx context.Context) ([]hub.Record, error) {
		userID, err := s.gw.UpstreamUserID(ctx, tenant)
		if err != nil {
			return nil, err
		}
		raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, hub.HubsPath(userID), nil)
		if err != nil {
			return nil, err
		}
		if wrapper, ok := raw.(map[string]any); ok {
			raw = wrapper["hubs"]
		}
		summaries := hub.Records(raw)

		merged := make([]hub.Record, len(summaries))
		var wg sync.WaitGroup
		for i, summary := range summaries {
			wg.Add(1)
			go func() {
				defer wg.Done()
				merged[i] = s.hubDetail(ctx, tenant, userID, summary)
			}()
		}
		wg.Wait()
		return merged, nil
	})
}

func (s *HubService) hubDetail(ctx context.Context, tenant, userID string, summary hub.Record) hub.Record {
	id := hub.SummaryHubID(summary)
	if id == "" {
		return hub.Apply(summary, hub.HubAliases)
	}
	raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, hub.HubPath(userID, id), nil)
	if err != nil {
		s.logger.Warn("hub detail unavailable, using summary", "tenant", tenant, "hub_id", id, "error", err)
		return hub.Apply(summary, hub.HubAliases)
	}
	detail, _ := raw.(map[string]any)
	return hub.MergeHubDetail(summary, detail)
}

// Hub returns one hub's detail.
func (s *HubService) Hub(ctx context.Context, tenant, hubID string) (hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.HubKey(tenant, hubID), s.ttl.Hub, func(ctx context.Context) (hub.Record, error) {
		rec, err := s.record(ctx, tenant, func(uid string) string { return hub.HubPath(uid, hubID) })
		if err != nil {
			return nil, err
		}
		return hub.MergeHubDetail(nil, rec), nil
	})
}

// Devices lists a hub's devices with nested properties flattened.
func (s *HubService) Devices(ctx context.Context, tenant, hubID string) ([]hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.DevicesKey(tenant, hubID), s.ttl.Devices, func(ctx context.Context) ([]hub.Record, error) {
		items, err := s.list(ctx, tenant, func(uid string) string { return hub.DevicesPath(uid, hubID) })
		if err != nil {
			return nil, err
		}
		out := make([]hub.Record, 0, len(items))
		for _, item := range items {
			out = append(out, hub.FlattenDevice(item))
		}
		return out, nil
	})
}

// Device returns one device.
func (s *HubService) Device(ctx context.Context, tenant, hubID, deviceID string) (hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.DeviceKey(tenant, hubID, deviceID), s.ttl.Device, func(ctx context.Context) (hub.Record, error) {
		rec, err := s.record(ctx, tenant, func(uid string) string { return hub.DevicePath(uid, hubID, deviceID) })
		if err != nil {
			return nil, err
		}
		return hub.FlattenDevice(rec), nil
	})
}

// Rooms lists a hub's rooms.
func (s *HubService) Rooms(ctx context.Context, tenant, hubID string) ([]hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.RoomsKey(tenant, hubID), s.ttl.Rooms, func(ctx context.Context) ([]hub.Record, error) {
		items, err := s.list(ctx, tenant, func(uid string) string { return hub.RoomsPath(uid, hubID) })
		if err != nil {
			return nil, err
		}
		return hub.ApplyAll(items, hub.RoomAliases), nil
	})
}

// Room returns one room. Not cached.
func (s *HubService) Room(ctx context.Context, tenant, hubID, roomID string) (hub.Record, error) {
	rec, err := s.record(ctx, tenant, func(uid string) string { return hub.RoomPath(uid, hubID, roomID) })
	if err != nil {
		return nil, err
	}
	return hub.Apply(rec, hub.RoomAliases), nil
}

// Groups lists a hub's security groups.
func (s *HubService) Groups(ctx context.Context, tenant, hubID string) ([]hub.Record, error) {
	return cache.GetOrFetch(ctx, s.cache, cache.GroupsKey(tenant, hubID), s.ttl.Groups, func(ctx context.Context) ([]hub.Record, error) {
		items, err := s.list(ctx, tenant, func(uid string) string { return hub.GroupsPath(uid, hubID) })
		if err != nil {
			return nil, err
		}
		return hub.ApplyAll(items, hub.GroupAliases), nil
	})
}

// Logs returns a page of hub events. A hub without logs yields an empty page.
func (s *HubService) Logs(ctx context.Context, tenant, hubID string, limit, offset int) (hub.EventPage, error) {
	userID, err := s.gw.UpstreamUserID(ctx, tenant)
	if err != nil {
		return hub.EventPage{}, err
	}
	raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, hub.LogsPath(userID, hubID, limit, offset), nil)
	if fault.IsStatus(err, http.StatusNotFound) {
		s.logger.Warn("no logs for hub", "tenant", tenant, "hub_id", hubID)
		return hub.NormalizeEvents(nil), nil
	}
	if err != nil {
		return hub.EventPage{}, err
	}
	return hub.NormalizeEvents(raw), nil
}

// ArmRequest describes an arming command issued by a client.
type ArmRequest struct {
	HubID   string
	State   hub.ArmState
	GroupID string
	Meta    identity.RequestMeta
}

// SetArmState arms, disarms, or switches a hub (or one of its groups) to
// night mode, then evicts the hub detail and hub list from the cache.
func (s *HubService) SetArmState(ctx context.Context, tenant string, req ArmRequest) (any, error) {
	cmd, err := hub.NewArmingCommand(req.State)
	if err != nil {
		return nil, err
	}
	userID, err := s.gw.UpstreamUserID(ctx, tenant)
	if err != nil {
		return nil, err
	}
	result, err := s.gw.Decode(ctx, tenant, http.MethodPut, hub.ArmingPath(userID, req.HubID, req.GroupID), cmd)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.HubKey(tenant, req.HubID), cache.HubsKey(tenant))

	if s.events != nil {
		payload := map[string]any{"state": req.State.String(), "command": cmd.Command}
		if req.GroupID != "" {
			payload["group_id"] = req.GroupID
		}
		s.events.Record(audit.Record{
			Subject:    tenant,
			Action:     audit.ActionArmStateChanged,
			Severity:   audit.SeverityInfo,
			Endpoint:   req.Meta.Endpoint,
			Method:     req.Meta.Method,
			StatusCode: http.StatusOK,
			ClientIP:   req.Meta.ClientIP,
			UserAgent:  req.Meta.UserAgent,
			ResourceID: req.HubID,
			RequestID:  req.Meta.RequestID,
			Payload:    payload,
		})
	}
	return result, nil
}

// UserInfo returns the tenant's upstream profile.
func (s *HubService) UserInfo(ctx context.Context, tenant string) (hub.Record, error) {
	userID, err := s.gw.UpstreamUserID(ctx, tenant)
	if err != nil {
		return nil, err
	}
	raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, hub.UserPath(userID), nil)
	if err != nil {
		return nil, err
	}
	rec, _ := raw.(map[string]any)
	if rec == nil {
		rec = hub.Record{}
	}
	return hub.NormalizeUser(rec, userID), nil
}

// HubBinding returns the tenant's binding to a hub, or nil when the hub is
// not bound to the tenant.
func (s *HubService) HubBinding(ctx context.Context, tenant, hubID string) (hub.Record, error) {
	rec, err := s.record(ctx, tenant, func(uid string) string { return hub.HubPath(uid, hubID) })
	if fault.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hub.Apply(rec, hub.HubAliases), nil
}

// InvalidateHub evicts the cached detail and devices of one hub.
func (s *HubService) InvalidateHub(ctx context.Context, tenant, hubID string) {
	s.cache.InvalidateHub(ctx, tenant, hubID)
}

// InvalidateTenant evicts every cached entry of tenant.
func (s *HubService) InvalidateTenant(ctx context.Context, tenant string) int64 {
	return s.cache.InvalidateTenant(ctx, tenant)
}

func (s *HubService) record(ctx context.Context, tenant string, path func(userID string) string) (hub.Record, error) {
	userID, err := s.gw.UpstreamUserID(ctx, tenant)
	if err != nil {
		return nil, err
	}
	raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, path(userID), nil)
	if err != nil {
		return nil, err
	}
	rec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object", &fault.UpstreamError{Status: http.StatusBadGateway})
	}
	return rec, nil
}

func (s *HubService) list(ctx context.Context, tenant string, path func(userID string) string) ([]hub.Record, error) {
	userID, err := s.gw.UpstreamUserID(ctx, tenant)
	if err != nil {
		return nil, err
	}
	raw, err := s.gw.Decode(ctx, tenant, http.MethodGet, path(userID), nil)
	if err != nil {
		return nil, err
	}
	return hub.Records(raw), nil
}
