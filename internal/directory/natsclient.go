package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Request/reply subjects owned by the platform directory service.
const (
	SubjectMembershipCheck = "directory.membership.check"
	SubjectMembershipList  = "directory.membership.list"
	SubjectGraphCanMessage = "directory.graph.can_message"
	SubjectProfileGet      = "directory.profiles.get"
)

// NATSDirectory asks the platform directory service over NATS
// request/reply. It implements Membership, Graph, and Profiles.
type NATSDirectory struct {
	nc *nats.Conn
}

func NewNATSDirectory(nc *nats.Conn) *NATSDirectory {
	return &NATSDirectory{nc: nc}
}

type membershipCheckReq struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

type membershipCheckResp struct {
	Member bool `json:"member"`
}

type membershipListReq struct {
	UserID string `json:"user_id"`
}

type membershipListResp struct {
	GroupIDs []string `json:"group_ids"`
}

type canMessageReq struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
}

type canMessageResp struct {
	Allowed bool `json:"allowed"`
}

// IsMember reports whether the user belongs to the room's group.
func (d *NATSDirectory) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	var resp membershipCheckResp
	if err := d.request(ctx, SubjectMembershipCheck, membershipCheckReq{UserID: userID, RoomID: roomID}, &resp); err != nil {
		return false, err
	}
	return resp.Member, nil
}

// Memberships returns the ids of the groups the user belongs to.
func (d *NATSDirectory) Memberships(ctx context.Context, userID string) ([]string, error) {
	var resp membershipListResp
	if err := d.request(ctx, SubjectMembershipList, membershipListReq{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.GroupIDs, nil
}

// CanMessage reports whether sender may send a private message to
// recipient.
func (d *NATSDirectory) CanMessage(ctx context.Context, senderID, recipientID string) (bool, error) {
	var resp canMessageResp
	if err := d.request(ctx, SubjectGraphCanMessage, canMessageReq{SenderID: senderID, RecipientID: recipientID}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

type profileGetReq struct {
	UserID string `json:"user_id"`
}

// Get fetches a user's display profile from the directory service.
func (d *NATSDirectory) Get(ctx context.Context, userID string) (*Profile, error) {
	var resp Profile
	if err := d.request(ctx, SubjectProfileGet, profileGetReq{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (d *NATSDirectory) request(ctx context.Context, subject string, req, resp interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", subject, err)
	}
	msg, err := d.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}
