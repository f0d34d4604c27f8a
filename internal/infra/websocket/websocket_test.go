package websocket

import (
	"testing"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		wantType ChannelType
		wantID   string
	}{
		{"scan channel", "scan:abc-123", ChannelTypeScan, "abc-123"},
		{"org channel", "org:org-1", ChannelTypeOrg, "org-1"},
		{"id with colon", "scan:a:b", ChannelTypeScan, "a:b"},
		{"no separator", "garbage", "", "garbage"},
		{"empty id", "scan:", ChannelTypeScan, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotID := ParseChannel(tt.channel)
			if gotType != tt.wantType || gotID != tt.wantID {
				t.Errorf("ParseChannel(%q) = (%q, %q), want (%q, %q)",
					tt.channel, gotType, gotID, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestMakeChannel(t *testing.T) {
	if got := MakeChannel(ChannelTypeScan, "s1"); got != "scan:s1" {
		t.Errorf("MakeChannel = %q, want scan:s1", got)
	}
	if got := MakeChannel(ChannelTypeOrg, "o1"); got != "org:o1" {
		t.Errorf("MakeChannel = %q, want org:o1", got)
	}
}

func TestDefaultAuthorize(t *testing.T) {
	client := &Client{OrgID: "org-1", UserID: "user-1"}

	tests := []struct {
		name    string
		channel string
		want    bool
	}{
		{"own org", "org:org-1", true},
		{"other org", "org:org-2", false},
		{"scan channel", "scan:scan-1", true},
		{"unknown type", "agent:a-1", false},
		{"missing id", "org:", false},
		{"no separator", "orgorg-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultAuthorize(client, tt.channel); got != tt.want {
				t.Errorf("defaultAuthorize(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestMessageBuilder(t *testing.T) {
	msg := NewMessage(MessageTypeEvent).
		WithChannel("scan:s1").
		WithData(map[string]string{"k": "v"}).
		WithRequestID("req-1")

	if msg.Type != MessageTypeEvent {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeEvent)
	}
	if msg.Channel != "scan:s1" {
		t.Errorf("Channel = %q, want scan:s1", msg.Channel)
	}
	if msg.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", msg.RequestID)
	}
	if msg.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
	if string(msg.Data) != `{"k":"v"}` {
		t.Errorf("Data = %s", msg.Data)
	}
}
