// ABOUTME: Closed enumeration of host capabilities with their display metadata and risk tier.
// ABOUTME: Pure lookup table consulted by manifest validation and the capability gate.

package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownCapability indicates a value outside the closed capability set.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability names one kind of sensitive host access.
type Capability string

// The twelve capabilities, in display order.
const (
	Camera        Capability = "camera"
	Microphone    Capability = "microphone"
	Geolocation   Capability = "geolocation"
	Bluetooth     Capability = "bluetooth"
	USB           Capability = "usb"
	Filesystem    Capability = "filesystem"
	Clipboard     Capability = "clipboard"
	Notifications Capability = "notifications"
	Internet      Capability = "internet"
	Storage       Capability = "storage"
	Fullscreen    Capability = "fullscreen"
	Print         Capability = "print"
)

// Risk classifies how sensitive a capability is.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// rank orders risk tiers for Summarize.
func (r Risk) rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Info is the display metadata for a capability.
type Info struct {
	ID          Capability `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Risk        Risk       `json:"risk"`
}

var ordered = []Capability{
	Camera,
	Microphone,
	Geolocation,
	Bluetooth,
	USB,
	Filesystem,
	Clipboard,
	Notifications,
	Internet,
	Storage,
	Fullscreen,
	Print,
}

var infos = map[Capability]Info{
	Camera:        {ID: Camera, Name: "Camera", Description: "Access your camera to take photos or scan codes", Icon: "📷", Risk: RiskHigh},
	Microphone:    {ID: Microphone, Name: "Microphone", Description: "Record audio from your microphone", Icon: "🎤", Risk: RiskHigh},
	Geolocation:   {ID: Geolocation, Name: "Location", Description: "Access your geographic location", Icon: "📍", Risk: RiskHigh},
	Bluetooth:     {ID: Bluetooth, Name: "Bluetooth", Description: "Connect to Bluetooth devices", Icon: "📶", Risk: RiskMedium},
	USB:           {ID: USB, Name: "USB", Description: "Connect to USB devices", Icon: "🔌", Risk: RiskMedium},
	Filesystem:    {ID: Filesystem, Name: "File System", Description: "Read and write files on your device", Icon: "📁", Risk: RiskMedium},
	Clipboard:     {ID: Clipboard, Name: "Clipboard", Description: "Read and write to your clipboard", Icon: "📋", Risk: RiskLow},
	Notifications: {ID: Notifications, Name: "Notifications", Description: "Show notifications", Icon: "🔔", Risk: RiskLow},
	Internet:      {ID: Internet, Name: "Internet", Description: "Make network requests to the internet", Icon: "🌐", Risk: RiskMedium},
	Storage:       {ID: Storage, Name: "Storage", Description: "Store data locally on your device", Icon: "💾", Risk: RiskLow},
	Fullscreen:    {ID: Fullscreen, Name: "Fullscreen", Description: "Display content in fullscreen mode", Icon: "⛶", Risk: RiskLow},
	Print:         {ID: Print, Name: "Print", Description: "Print documents", Icon: "🖨️", Risk: RiskLow},
}

// aliases maps descriptive names to their canonical wire id.
var aliases = map[string]Capability{
	"network":            Internet,
	"persistent-storage": Storage,
	"fullscreen-display": Fullscreen,
	"printing":           Print,
}

// All returns every capability in display order.
func All() []Capability {
	out := make([]Capability, len(ordered))
	copy(out, ordered)
	return out
}

// Known reports whether c is a member of the closed set.
func Known(c Capability) bool {
	_, ok := infos[c]
	return ok
}

// Parse converts a wire identifier (or one of its descriptive aliases) to a Capability.
func Parse(s string) (Capability, error) {
	if c := Capability(s); Known(c) {
		return c, nil
	}
	if c, ok := aliases[s]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
}

// Describe returns the display metadata for c.
func Describe(c Capability) (Info, error) {
	info, ok := infos[c]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
	}
	return info, nil
}

// String returns the wire identifier.
func (c Capability) String() string {
	return string(c)
}

// Summary counts a capability set by risk tier.
type Summary struct {
	Total   int  `json:"total"`
	High    int  `json:"high"`
	Medium  int  `json:"medium"`
	Low     int  `json:"low"`
	Highest Risk `json:"highest,omitempty"` // empty when Total is zero
}

// Summarize tallies caps by risk tier. Unknown values are skipped.
func Summarize(caps []Capability) Summary {
	var s Summary
	for _, c := range caps {
		info, ok := infos[c]
		if !ok {
			continue
		}
		s.Total++
		switch info.Risk {
		case RiskHigh:
			s.High++
		case RiskMedium:
			s.Medium++
		case RiskLow:
			s.Low++
		}
		if info.Risk.rank() > s.Highest.rank() {
			s.Highest = info.Risk
		}
	}
	return s
}
