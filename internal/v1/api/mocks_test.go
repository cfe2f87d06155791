package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duyanhpham/chat-service/internal/v1/store"
	"github.com/duyanhpham/chat-service/internal/v1/types"
)

type addedMember struct {
	roomID string
	userID int64
	role   types.MemberRole
}

type insertedMessage struct {
	roomID      string
	senderID    int64
	content     string
	messageType types.MessageType
}

type createdInvitation struct {
	roomID    string
	userID    int64
	invitedBy int64
}

type statusUpdate struct {
	id     int64
	status types.InvitationStatus
}

type messagesQuery struct {
	roomID   string
	limit    int
	beforeID string
}

// fakeRepo satisfies Repository with canned answers. Tests flip the err
// fields to drive failure paths; mutating calls are recorded for assertions.
type fakeRepo struct {
	mu sync.Mutex

	room           *types.Room
	roomErr        error
	createRoomErr  error
	directRoom     *types.Room
	directErr      error
	members        []types.MemberInfo
	membersErr     error
	memberIDs      []int64
	memberIDsErr   error
	userRooms      []types.Room
	userRoomsErr   error
	isMember       bool
	isMemberErr    error
	role           types.MemberRole
	roleErr        error
	adminCount     int
	memberCount    int
	countErr       error
	leaveErr       error
	hideErr        error
	readAt         time.Time
	readErr        error
	messages       []types.MessageWithSender
	messagesErr    error
	unread         int
	unreadErr      error
	addMemberErr   error
	insertErr      error
	displayName    string
	displayErr     error
	invitation     *types.RoomInvitation
	invitationErr  error
	pending        []types.PendingInvitation
	pendingErr     error
	createInvErr   error
	updateStatus   error
	nextInvitation *types.RoomInvitation

	createdRooms  []types.RoomType
	added         []addedMember
	left          []string
	hidden        []string
	marked        []string
	inserted      []insertedMessage
	invited       []createdInvitation
	statusUpdates []statusUpdate
	messageQuery  *messagesQuery
}

func newFakeRepo() *fakeRepo {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	name := "Weekend plans"
	return &fakeRepo{
		room: &types.Room{
			ID:        "room-1",
			Name:      &name,
			RoomType:  types.RoomTypeGroup,
			CreatedBy: 1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		directErr:   store.ErrNotFound,
		isMember:    true,
		role:        types.MemberRoleMember,
		adminCount:  2,
		memberCount: 3,
		readAt:      now,
		displayName: "An",
		members: []types.MemberInfo{
			{UserID: 1, Name: "An", Email: "an@example.com", Role: types.MemberRoleAdmin, JoinedAt: now},
			{UserID: 2, Name: "Binh", Email: "binh@example.com", Role: types.MemberRoleMember, JoinedAt: now},
		},
		memberIDs: []int64{1, 2},
	}
}

func (r *fakeRepo) CreateRoom(_ context.Context, name *string, roomType types.RoomType, createdBy int64) (*types.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createRoomErr != nil {
		return nil, r.createRoomErr
	}
	r.createdRooms = append(r.createdRooms, roomType)
	room := *r.room
	room.Name = name
	room.RoomType = roomType
	room.CreatedBy = createdBy
	return &room, nil
}

func (r *fakeRepo) GetRoom(_ context.Context, _ string) (*types.Room, error) {
	if r.roomErr != nil {
		return nil, r.roomErr
	}
	return r.room, nil
}

func (r *fakeRepo) FindDirectRoom(_ context.Context, _, _ int64) (*types.Room, error) {
	if r.directRoom != nil {
		return r.directRoom, nil
	}
	return nil, r.directErr
}

func (r *fakeRepo) AddMember(_ context.Context, roomID string, userID int64, role types.MemberRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addMemberErr != nil {
		return r.addMemberErr
	}
	r.added = append(r.added, addedMember{roomID: roomID, userID: userID, role: role})
	return nil
}

func (r *fakeRepo) GetRoomMembers(_ context.Context, _ string) ([]types.MemberInfo, error) {
	return r.members, r.membersErr
}

func (r *fakeRepo) GetActiveMemberIDs(_ context.Context, _ string) ([]int64, error) {
	return r.memberIDs, r.memberIDsErr
}

func (r *fakeRepo) GetUserRooms(_ context.Context, _ int64) ([]types.Room, error) {
	return r.userRooms, r.userRoomsErr
}

func (r *fakeRepo) IsActiveMember(_ context.Context, _ string, _ int64) (bool, error) {
	return r.isMember, r.isMemberErr
}

func (r *fakeRepo) MemberRole(_ context.Context, _ string, _ int64) (types.MemberRole, error) {
	if r.roleErr != nil {
		return "", r.roleErr
	}
	return r.role, nil
}

func (r *fakeRepo) CountActiveAdmins(_ context.Context, _ string) (int, error) {
	return r.adminCount, r.countErr
}

func (r *fakeRepo) CountActiveMembers(_ context.Context, _ string) (int, error) {
	return r.memberCount, r.countErr
}

func (r *fakeRepo) LeaveRoom(_ context.Context, roomID string, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaveErr != nil {
		return r.leaveErr
	}
	r.left = append(r.left, roomID)
	return nil
}

func (r *fakeRepo) HideRoom(_ context.Context, roomID string, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hideErr != nil {
		return r.hideErr
	}
	r.hidden = append(r.hidden, roomID)
	return nil
}

func (r *fakeRepo) MarkRoomRead(_ context.Context, roomID string, _ int64) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return time.Time{}, r.readErr
	}
	r.marked = append(r.marked, roomID)
	return r.readAt, nil
}

func (r *fakeRepo) GetRoomMessages(_ context.Context, roomID string, limit int, beforeID string) ([]types.MessageWithSender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageQuery = &messagesQuery{roomID: roomID, limit: limit, beforeID: beforeID}
	return r.messages, r.messagesErr
}

func (r *fakeRepo) GetUnreadCount(_ context.Context, _ string, _ int64) (int, error) {
	return r.unread, r.unreadErr
}

func (r *fakeRepo) InsertMessage(_ context.Context, roomID string, senderID int64, content string, messageType types.MessageType, _ json.RawMessage) (*types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	r.inserted = append(r.inserted, insertedMessage{roomID: roomID, senderID: senderID, content: content, messageType: messageType})
	return &types.Message{
		ID:          "msg-1",
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
	}, nil
}

func (r *fakeRepo) GetDisplayName(_ context.Context, _ int64) (string, error) {
	if r.displayErr != nil {
		return "", r.displayErr
	}
	return r.displayName, nil
}

// AdvanceLastMessageAt and UnhideRoomForMembers round out the session-side
// repository surface so the router tests can reuse this fake for the
// websocket gateway.
func (r *fakeRepo) AdvanceLastMessageAt(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (r *fakeRepo) UnhideRoomForMembers(_ context.Context, _ string) error {
	return nil
}

func (r *fakeRepo) CreateInvitation(_ context.Context, roomID string, userID, invitedBy int64) (*types.RoomInvitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createInvErr != nil {
		return nil, r.createInvErr
	}
	r.invited = append(r.invited, createdInvitation{roomID: roomID, userID: userID, invitedBy: invitedBy})
	return &types.RoomInvitation{
		ID:        int64(len(r.invited)),
		RoomID:    roomID,
		UserID:    userID,
		InvitedBy: invitedBy,
		Status:    types.InvitationPending,
	}, nil
}

// GetInvitation returns invitation until the status has been updated, then
// nextInvitation when set. That models the re-read after a lost update race.
func (r *fakeRepo) GetInvitation(_ context.Context, _ int64) (*types.RoomInvitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invitationErr != nil {
		return nil, r.invitationErr
	}
	if len(r.statusUpdates) > 0 && r.nextInvitation != nil {
		return r.nextInvitation, nil
	}
	return r.invitation, nil
}

func (r *fakeRepo) GetPendingInvitations(_ context.Context, _ int64) ([]types.PendingInvitation, error) {
	return r.pending, r.pendingErr
}

func (r *fakeRepo) UpdateInvitationStatus(_ context.Context, id int64, status types.InvitationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates = append(r.statusUpdates, statusUpdate{id: id, status: status})
	return r.updateStatus
}

type roomPublish struct {
	roomID  string
	payload any
	exclude *int64
}

type userPublish struct {
	userID  int64
	payload any
}

// fakePublisher records everything pushed onto the bus.
type fakePublisher struct {
	mu          sync.Mutex
	failPublish bool

	roomPublishes []roomPublish
	userPublishes []userPublish
}

func (p *fakePublisher) PublishRoom(_ context.Context, roomID string, payload any, excludeUser *int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPublish {
		return assert.AnError
	}
	p.roomPublishes = append(p.roomPublishes, roomPublish{roomID: roomID, payload: payload, exclude: excludeUser})
	return nil
}

func (p *fakePublisher) PublishUser(_ context.Context, userID int64, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPublish {
		return assert.AnError
	}
	p.userPublishes = append(p.userPublishes, userPublish{userID: userID, payload: payload})
	return nil
}

func (p *fakePublisher) userTargets() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	targets := make([]int64, 0, len(p.userPublishes))
	for _, pub := range p.userPublishes {
		targets = append(targets, pub.userID)
	}
	return targets
}
