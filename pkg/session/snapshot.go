package session

import (
	"encoding/json"
	"time"

	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/profile"
)

// Snapshot is one decoded device status.
type Snapshot struct {
	// Values maps channel ids to decoded values: bool, float64 or string.
	Values map[string]any

	// Raw maps property names to their undecoded values.
	Raw map[string]json.RawMessage

	// At is when the status was captured.
	At time.Time
}

// Value returns the decoded value of channel id.
func (s Snapshot) Value(id string) (any, bool) {
	v, ok := s.Values[id]
	return v, ok
}

// decodeProperties decodes raw property values through the profile's
// refresh channels. Properties the device did not report are skipped.
func decodeProperties(p *profile.Profile, raw map[string]json.RawMessage, at time.Time) Snapshot {
	s := Snapshot{
		Values: make(map[string]any),
		Raw:    raw,
		At:     at,
	}
	for _, ch := range p.Channels {
		v, ok := raw[ch.Property]
		if !ok || ch.Property == "" {
			continue
		}
		decoded, err := ch.Decode(v)
		if err != nil {
			continue
		}
		s.Values[ch.ID] = decoded
	}
	return s
}

// NetworkInfo is the network block of the device information.
type NetworkInfo struct {
	SSID  string
	BSSID string
	RSSI  int
	Life  int
}

func networkInfo(info *message.DeviceInfo) NetworkInfo {
	return NetworkInfo{
		SSID:  info.AccessPoint.SSID,
		BSSID: info.AccessPoint.BSSID,
		RSSI:  info.AccessPoint.RSSI,
		Life:  info.Life,
	}
}

// DeviceInfo is the identity of an identified device.
type DeviceInfo struct {
	DeviceID        uint32
	Model           string
	FirmwareVersion string
	HardwareVersion string
	Profile         *profile.Profile
}
