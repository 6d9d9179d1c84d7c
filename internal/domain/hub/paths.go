package hub

import (
	"fmt"
	"net/url"
)

// Upstream resource paths, relative to the configured API base URL.

func UserPath(userID string) string {
	return "/user/" + url.PathEscape(userID)
}

func HubsPath(userID string) string {
	return UserPath(userID) + "/hubs"
}

func HubPath(userID, hubID string) string {
	return HubsPath(userID) + "/" + url.PathEscape(hubID)
}

// DevicesPath requests the enriched device list, which nests device
// metadata under "properties".
func DevicesPath(userID, hubID string) string {
	return HubPath(userID, hubID) + "/devices?enrich=true"
}

func DevicePath(userID, hubID, deviceID string) string {
	return HubPath(userID, hubID) + "/devices/" + url.PathEscape(deviceID)
}

func RoomsPath(userID, hubID string) string {
	return HubPath(userID, hubID) + "/rooms"
}

func RoomPath(userID, hubID, roomID string) string {
	return RoomsPath(userID, hubID) + "/" + url.PathEscape(roomID)
}

func GroupsPath(userID, hubID string) string {
	return HubPath(userID, hubID) + "/groups"
}

func LogsPath(userID, hubID string, limit, offset int) string {
	return fmt.Sprintf("%s/logs?limit=%d&offset=%d", HubPath(userID, hubID), limit, offset)
}

// ArmingPath targets the whole hub, or a single group when groupID is set.
func ArmingPath(userID, hubID, groupID string) string {
	if groupID != "" {
		return GroupsPath(userID, hubID) + "/" + url.PathEscape(groupID) + "/commands/arming"
	}
	return HubPath(userID, hubID) + "/commands/arming"
}
