package hub

import "strings"

// Record is one decoded upstream JSON object.
type Record = map[string]any

// Alias maps a canonical output field to the upstream names it may arrive
// under. Sources are tried in order and the first non-null value wins.
type Alias struct {
	Field   string
	Sources []string
}

// Field alias tables, one per resource. Upstream response variants disagree
// on naming (camelCase, snake_case, legacy capitalised ids); these tables are
// the only place that knowledge lives.
var (
	HubAliases = []Alias{
		{Field: "id", Sources: []string{"id", "hubId"}},
		{Field: "name", Sources: []string{"name", "hubName"}},
		{Field: "role", Sources: []string{"role", "hubBindingRole"}},
		{Field: "hub_subtype", Sources: []string{"hub_subtype", "hubSubtype"}},
	}

	DeviceAliases = []Alias{
		{Field: "id", Sources: []string{"id", "deviceId", "DeviceId"}},
		{Field: "hubId", Sources: []string{"hubId", "hub_id"}},
		{Field: "name", Sources: []string{"deviceName", "device_name", "name"}},
		{Field: "deviceType", Sources: []string{"deviceType", "device_type", "type"}},
		{Field: "roomId", Sources: []string{"roomId", "room_id"}},
		{Field: "groupId", Sources: []string{"groupId", "group_id"}},
		{Field: "online", Sources: []string{"online", "isOnline"}},
		{Field: "battery_level", Sources: []string{"battery_level", "batteryChargeLevelPercentage"}},
		{Field: "firmware_version", Sources: []string{"firmware_version", "firmwareVersion"}},
		{Field: "signal_level", Sources: []string{"signal_level", "signalLevel"}},
		{Field: "night_mode_arm", Sources: []string{"night_mode_arm", "nightModeArm"}},
		{Field: "arm_delay", Sources: []string{"arm_delay", "armDelaySeconds"}},
		{Field: "alarm_delay", Sources: []string{"alarm_delay", "alarmDelaySeconds"}},
		{Field: "cms_index", Sources: []string{"cms_index", "cmsDeviceIndex"}},
	}

	RoomAliases = []Alias{
		{Field: "id", Sources: []string{"id", "roomId"}},
		{Field: "roomName", Sources: []string{"roomName", "name"}},
	}

	GroupAliases = []Alias{
		{Field: "id", Sources: []string{"id", "groupId"}},
		{Field: "hub_id", Sources: []string{"hub_id", "hubId"}},
		{Field: "name", Sources: []string{"name", "groupName"}},
	}

	EventAliases = []Alias{
		{Field: "id", Sources: []string{"id", "eventId", "eventIdV2"}},
		{Field: "hub_id", Sources: []string{"hub_id", "hubId"}},
		{Field: "event_code", Sources: []string{"event_code", "eventCode"}},
		{Field: "event_desc", Sources: []string{"event_desc", "eventTag", "eventTypeV2", "eventType"}},
		{Field: "user_name", Sources: []string{"user_name", "sourceObjectName"}},
		{Field: "device_name", Sources: []string{"device_name", "sourceObjectName"}},
	}

	UserAliases = []Alias{
		{Field: "id", Sources: []string{"id", "userId"}},
	}
)

// Apply returns a copy of rec with every canonical field in aliases filled
// from its first non-null source. Fields not named in the table pass through.
func Apply(rec Record, aliases []Alias) Record {
	out := make(Record, len(rec)+len(aliases))
	for k, v := range rec {
		out[k] = v
	}
	for _, a := range aliases {
		for _, src := range a.Sources {
			if v, ok := rec[src]; ok && v != nil {
				out[a.Field] = v
				break
			}
		}
	}
	return out
}

// ApplyAll maps every record in recs.
func ApplyAll(recs []Record, aliases []Alias) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, Apply(r, aliases))
	}
	return out
}

// rootDeviceFields are the device fields that may be reported at the root of
// an enriched device payload instead of inside "properties".
var rootDeviceFields = []string{"deviceName", "deviceType", "online"}

// FlattenDevice merges an enriched device payload into a single record.
// Values under "properties" win; the root-level name, type and online status
// are used only where the nested value is absent or null.
func FlattenDevice(item Record) Record {
	out := Record{}
	if id := firstNonNull(item, "deviceId", "id"); id != nil {
		out["deviceId"] = id
	}
	if props, ok := item["properties"].(map[string]any); ok {
		for k, v := range props {
			out[k] = v
		}
	}
	for _, f := range rootDeviceFields {
		if v, ok := item[f]; ok && v != nil && out[f] == nil {
			out[f] = v
		}
	}
	return Apply(out, DeviceAliases)
}

// MergeHubDetail overlays detail on top of the hub summary. When detail
// reports activeChannels, online is derived from whether any channel is up.
func MergeHubDetail(summary, detail Record) Record {
	out := make(Record, len(summary)+len(detail))
	for k, v := range summary {
		out[k] = v
	}
	for k, v := range detail {
		out[k] = v
	}
	if ch, ok := detail["activeChannels"]; ok {
		out["online"] = truthy(ch)
	}
	return Apply(out, HubAliases)
}

// SummaryHubID returns the hub id of a hub-list summary entry.
func SummaryHubID(summary Record) string {
	if s, ok := firstNonNull(summary, "hubId", "id").(string); ok {
		return s
	}
	return ""
}

// EventPage is the normalized shape of a hub log query.
type EventPage struct {
	Logs       []Record `json:"logs"`
	TotalCount int      `json:"total_count"`
}

// NormalizeEvents converts either a bare event list or a wrapped page
// ({"logs"|"events": [...], "totalCount"|"total_count": n}) into an EventPage.
func NormalizeEvents(raw any) EventPage {
	page := EventPage{Logs: []Record{}}
	switch v := raw.(type) {
	case []any:
		page.Logs = ApplyAll(records(v), EventAliases)
		page.TotalCount = len(page.Logs)
	case map[string]any:
		if list, ok := firstNonNull(v, "logs", "events").([]any); ok {
			page.Logs = ApplyAll(records(list), EventAliases)
		}
		if n, ok := firstNonNull(v, "total_count", "totalCount").(float64); ok {
			page.TotalCount = int(n)
		}
	}
	return page
}

// NormalizeUser fixes the user id to the upstream user id when the payload
// omits it or carries the login e-mail instead, and splits a full name held
// in firstName when lastName is missing.
func NormalizeUser(rec Record, upstreamUserID string) Record {
	out := Apply(rec, UserAliases)
	uid, _ := rec["userId"].(string)
	if uid == "" || strings.Contains(uid, "@") {
		out["userId"] = upstreamUserID
		out["id"] = upstreamUserID
	}
	first, _ := out["firstName"].(string)
	last, _ := out["lastName"].(string)
	if last == "" {
		if f, l, ok := strings.Cut(first, " "); ok {
			out["firstName"] = f
			out["lastName"] = l
		}
	}
	return out
}

// Records converts a decoded JSON array into records, skipping non-objects.
func Records(v any) []Record {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return records(list)
}

func records(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if r, ok := item.(map[string]any); ok {
			out = append(out, r)
		}
	}
	return out
}

func firstNonNull(rec Record, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// truthy follows JSON-ish truthiness: empty collections, empty strings,
// zero, false and null are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
