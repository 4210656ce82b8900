package federation

import (
	"net/url"
	"strings"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// PublicKey is the publicKey block of the instance actor.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Actor is the instance actor document remote servers fetch to verify
// signatures.
type Actor struct {
	Context           []string  `json:"@context"`
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	PreferredUsername string    `json:"preferredUsername"`
	Name              string    `json:"name"`
	Summary           string    `json:"summary,omitempty"`
	Inbox             string    `json:"inbox"`
	Outbox            string    `json:"outbox"`
	URL               string    `json:"url"`
	Manually          bool      `json:"manuallyApprovesFollowers"`
	PublicKey         PublicKey `json:"publicKey"`
}

// InstanceActor builds the actor document for publicURL.
func InstanceActor(publicURL string, keys *KeyPair) *Actor {
	base := strings.TrimRight(publicURL, "/")
	id := ActorURL(base)
	name := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		name = u.Host
	}
	return &Actor{
		Context: []string{
			activityStreamsContext,
			"https://w3id.org/security/v1",
		},
		ID:                id,
		Type:              "Application",
		PreferredUsername: name,
		Name:              "apview",
		Summary:           "Read-only ActivityPub viewer",
		Inbox:             id + "/inbox",
		Outbox:            id + "/outbox",
		URL:               base + "/",
		Manually:          true,
		PublicKey: PublicKey{
			ID:           KeyIDFor(base),
			Owner:        id,
			PublicKeyPem: keys.PublicPEM,
		},
	}
}
