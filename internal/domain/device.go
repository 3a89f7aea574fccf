package domain

import "sort"

type DeviceKind string

const (
	AudioInput  DeviceKind = "audioinput"
	AudioOutput DeviceKind = "audiooutput"
	VideoInput  DeviceKind = "videoinput"
)

// DeviceKinds is the grouping order of device lists.
var DeviceKinds = []DeviceKind{AudioInput, AudioOutput, VideoInput}

// TrackKind maps a capture device kind to the track it produces.
func (k DeviceKind) TrackKind() (TrackKind, bool) {
	switch k {
	case AudioInput:
		return TrackAudio, true
	case VideoInput:
		return TrackVideo, true
	}
	return "", false
}

// Device identity is ID; it may become invalid after hot-plug.
type Device struct {
	ID    string     `json:"deviceId"`
	Kind  DeviceKind `json:"kind"`
	Label string     `json:"label"`
}

type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// GroupDevices orders devices by kind, keeping platform order within a kind.
// Devices of unknown kinds are dropped.
func GroupDevices(in []Device) []Device {
	rank := make(map[DeviceKind]int, len(DeviceKinds))
	for i, k := range DeviceKinds {
		rank[k] = i
	}
	out := make([]Device, 0, len(in))
	for _, d := range in {
		if _, ok := rank[d.Kind]; ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i].Kind] < rank[out[j].Kind] })
	return out
}

// OfKind filters a device list.
func OfKind(devices []Device, kind DeviceKind) []Device {
	var out []Device
	for _, d := range devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// FindDevice looks a device up by id.
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Unlabeled reports whether every device lacks a label.
func Unlabeled(devices []Device) bool {
	for _, d := range devices {
		if d.Label != "" {
			return false
		}
	}
	return true
}
