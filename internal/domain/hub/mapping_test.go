package hub

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return v
}

func TestArmState_Command(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state   ArmState
		want    string
		wantErr bool
	}{
		{ArmStateDisarmed, "DISARM", false},
		{ArmStateArmed, "ARM", false},
		{ArmStateNightMode, "NIGHT_MODE_ON", false},
		{ArmState(7), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			t.Parallel()
			got, err := tt.state.Command()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Command() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Command() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewArmingCommand_IgnoresProblems(t *testing.T) {
	t.Parallel()

	cmd, err := NewArmingCommand(ArmStateNightMode)
	if err != nil {
		t.Fatalf("NewArmingCommand() error = %v", err)
	}
	body, _ := json.Marshal(cmd)
	if string(body) != `{"command":"NIGHT_MODE_ON","ignoreProblems":true}` {
		t.Errorf("body = %s", body)
	}
}

func TestArmingPath(t *testing.T) {
	t.Parallel()

	if got := ArmingPath("u1", "h1", ""); got != "/user/u1/hubs/h1/commands/arming" {
		t.Errorf("hub arming path = %q", got)
	}
	if got := ArmingPath("u1", "h1", "g2"); got != "/user/u1/hubs/h1/groups/g2/commands/arming" {
		t.Errorf("group arming path = %q", got)
	}
	if got := LogsPath("u1", "h1", 20, 40); got != "/user/u1/hubs/h1/logs?limit=20&offset=40" {
		t.Errorf("logs path = %q", got)
	}
}

func TestFlattenDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			name: "nested values win over root",
			in:   `{"id":"d1","deviceName":"Root","properties":{"deviceName":"Nested","online":false}}`,
			want: map[string]any{"deviceId": "d1", "id": "d1", "deviceName": "Nested", "name": "Nested", "online": false},
		},
		{
			name: "root fills absent nested fields",
			in:   `{"deviceId":"d2","deviceName":"Door","deviceType":"DoorProtect","online":true,"properties":{"temperature":21}}`,
			want: map[string]any{
				"deviceId": "d2", "id": "d2", "deviceName": "Door", "name": "Door",
				"deviceType": "DoorProtect", "online": true, "temperature": float64(21),
			},
		},
		{
			name: "null nested value falls back to root",
			in:   `{"deviceId":"d3","online":true,"properties":{"online":null,"batteryChargeLevelPercentage":80}}`,
			want: map[string]any{
				"deviceId": "d3", "id": "d3", "online": true,
				"batteryChargeLevelPercentage": float64(80), "battery_level": float64(80),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FlattenDevice(decode(t, tt.in).(map[string]any))
			if !reflect.DeepEqual(got, Record(tt.want)) {
				t.Errorf("FlattenDevice() = %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestMergeHubDetail(t *testing.T) {
	t.Parallel()

	summary := decode(t, `{"hubId":"h1","hubBindingRole":"MASTER"}`).(map[string]any)

	online := MergeHubDetail(summary, decode(t, `{"name":"Home","activeChannels":["ETHERNET"]}`).(map[string]any))
	if online["online"] != true || online["id"] != "h1" || online["role"] != "MASTER" || online["name"] != "Home" {
		t.Errorf("merged = %#v", online)
	}

	offline := MergeHubDetail(summary, decode(t, `{"activeChannels":[]}`).(map[string]any))
	if offline["online"] != false {
		t.Errorf("online with no channels = %v, want false", offline["online"])
	}

	summaryOnly := MergeHubDetail(summary, nil)
	if _, ok := summaryOnly["online"]; ok {
		t.Error("online set without activeChannels")
	}
}

func TestNormalizeEvents(t *testing.T) {
	t.Parallel()

	list := NormalizeEvents(decode(t, `[{"eventId":"e1","eventTag":"Arm"},{"eventIdV2":"e2","eventType":"Disarm"}]`))
	if list.TotalCount != 2 || len(list.Logs) != 2 {
		t.Fatalf("list page = %+v", list)
	}
	if list.Logs[0]["id"] != "e1" || list.Logs[0]["event_desc"] != "Arm" {
		t.Errorf("first event = %#v", list.Logs[0])
	}
	if list.Logs[1]["id"] != "e2" || list.Logs[1]["event_desc"] != "Disarm" {
		t.Errorf("second event = %#v", list.Logs[1])
	}

	wrapped := NormalizeEvents(decode(t, `{"events":[{"eventCode":"M1","sourceObjectName":"Hall"}],"totalCount":41}`))
	if wrapped.TotalCount != 41 || len(wrapped.Logs) != 1 {
		t.Fatalf("wrapped page = %+v", wrapped)
	}
	ev := wrapped.Logs[0]
	if ev["event_code"] != "M1" || ev["user_name"] != "Hall" || ev["device_name"] != "Hall" {
		t.Errorf("wrapped event = %#v", ev)
	}

	empty := NormalizeEvents(nil)
	if empty.Logs == nil || empty.TotalCount != 0 {
		t.Errorf("empty page = %+v", empty)
	}
}

func TestNormalizeUser(t *testing.T) {
	t.Parallel()

	got := NormalizeUser(decode(t, `{"userId":"user@example.com","firstName":"Ada Lovelace"}`).(map[string]any), "A1B2")
	if got["userId"] != "A1B2" || got["id"] != "A1B2" {
		t.Errorf("ids = %v / %v, want A1B2", got["userId"], got["id"])
	}
	if got["firstName"] != "Ada" || got["lastName"] != "Lovelace" {
		t.Errorf("names = %v / %v", got["firstName"], got["lastName"])
	}

	kept := NormalizeUser(decode(t, `{"userId":"FF00","firstName":"Grace","lastName":"Hopper"}`).(map[string]any), "A1B2")
	if kept["userId"] != "FF00" || kept["firstName"] != "Grace" {
		t.Errorf("kept = %#v", kept)
	}
}

func TestApply_PassThroughUnknownFields(t *testing.T) {
	t.Parallel()

	got := Apply(Record{"groupId": "g1", "hubId": "h1", "name": "Perimeter", "state": "ARMED"}, GroupAliases)
	want := Record{"groupId": "g1", "id": "g1", "hubId": "h1", "hub_id": "h1", "name": "Perimeter", "state": "ARMED"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() = %#v, want %#v", got, want)
	}
}
