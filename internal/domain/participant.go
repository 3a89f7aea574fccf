package domain

type (
	ParticipantID string
	TrackID       string
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
	TrackData  TrackKind = "data"
)

// Renderable reports whether tracks of this kind can be attached to a render surface.
func (k TrackKind) Renderable() bool {
	return k == TrackAudio || k == TrackVideo
}

type SubscriptionState string

const (
	Unsubscribed SubscriptionState = "unsubscribed"
	Subscribed   SubscriptionState = "subscribed"
)

// TrackPublication is the registry view of one remote publication.
type TrackPublication struct {
	TrackID      TrackID           `json:"trackId"`
	Kind         TrackKind         `json:"kind"`
	Subscription SubscriptionState `json:"subscriptionState"`
	Attached     bool              `json:"attached"`
	Enabled      bool              `json:"enabled"`
}

// ParticipantView is a read-only roster entry.
type ParticipantView struct {
	ID       ParticipantID      `json:"id"`
	Identity string             `json:"identity"`
	Tracks   []TrackPublication `json:"tracks"`
	Loudest  bool               `json:"loudest"`
}
