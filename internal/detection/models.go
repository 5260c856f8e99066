package detection

import (
	"fmt"
	"time"
)

// Kind identifies which radio produced a detection
type Kind string

const (
	KindBLE  Kind = "BLE"
	KindWiFi Kind = "WIFI"
)

// Key is the identity of a detection. Two detections are the same entity iff all
// three fields match.
type Key struct {
	Kind    Kind
	Name    string
	Address string
}

// Detection is one observed local broadcast source
type Detection struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	FirstSeen time.Time `json:"first_seen"`
}

// Key returns the identity of the detection
func (d Detection) Key() Key {
	return Key{Kind: d.Kind, Name: d.Name, Address: d.Address}
}

// Label renders the detection the way the scanner list shows it
func (d Detection) Label() string {
	switch d.Kind {
	case KindBLE:
		return fmt.Sprintf("Bluetooth: %s (%s)", d.Name, d.Address)
	case KindWiFi:
		return fmt.Sprintf("Wi-Fi: %s (%s)", d.Name, d.Address)
	default:
		return fmt.Sprintf("%s: %s (%s)", d.Kind, d.Name, d.Address)
	}
}

// Advertisement is a single BLE advertisement event
type Advertisement struct {
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Seen    time.Time `json:"seen,omitempty"`
}

// Detection converts the advertisement, stamping it with now when no time is set
func (a Advertisement) Detection(now time.Time) Detection {
	seen := a.Seen
	if seen.IsZero() {
		seen = now
	}
	return Detection{Kind: KindBLE, Name: a.Name, Address: a.Address, FirstSeen: seen}
}

// WifiResult is one entry of a Wi-Fi scan result cache
type WifiResult struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid"`
}

// Detection converts the scan result
func (r WifiResult) Detection(now time.Time) Detection {
	return Detection{Kind: KindWiFi, Name: r.SSID, Address: r.BSSID, FirstSeen: now}
}
