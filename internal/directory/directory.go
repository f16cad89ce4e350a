// Package directory defines the contracts this core consumes from the
// rest of the platform — authentication, group membership, the social
// graph, and profile lookups — together with the client implementations
// the gateway wires in. None of the underlying rules are implemented here.
package directory

import "context"

// Authenticator resolves a connection credential to a stable user id.
type Authenticator interface {
	Authenticate(credential string) (userID string, err error)
}

// Membership answers group/thread membership questions. The owning
// service's rules are never re-implemented by the core.
type Membership interface {
	// IsMember reports whether the user belongs to the room's group.
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	// Memberships returns the ids of the groups the user belongs to.
	Memberships(ctx context.Context, userID string) ([]string, error)
}

// Graph answers whether two users may message each other (friendship,
// blocks, and privacy settings live with the platform).
type Graph interface {
	CanMessage(ctx context.Context, senderID, recipientID string) (bool, error)
}

// Profile is the display metadata attached to messages by callers. The
// core never stores these fields on the message itself.
type Profile struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profiles looks up display metadata for a user.
type Profiles interface {
	Get(ctx context.Context, userID string) (*Profile, error)
}
