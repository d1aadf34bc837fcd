package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/KafClaw/guildkeeper/internal/bus"
)

// Memory is an in-process Platform backed by maps. It records every mutating
// call and lets callers inject per-action errors. Intended for tests and dry runs.
type Memory struct {
	mu sync.Mutex

	channels    map[string]Channel
	voice       map[string]string // memberID -> channelID
	manage      map[string]map[string]bool
	invites     map[string][]Invite
	memberCount map[string]int
	nextID      int

	// Injected failures, keyed by action name ("create", "move", "delete",
	// "edit", "count", "list_invites", "fetch_invite", "send").
	Errors map[string]error

	Created  []Channel
	Moves    []string
	Deleted  []string
	Renames  []string
	Sent     []*bus.Notification
	Listings int
}

// NewMemory creates an empty in-memory platform.
func NewMemory() *Memory {
	return &Memory{
		channels:    make(map[string]Channel),
		voice:       make(map[string]string),
		manage:      make(map[string]map[string]bool),
		invites:     make(map[string][]Invite),
		memberCount: make(map[string]int),
		Errors:      make(map[string]error),
	}
}

// AddChannel registers an existing channel.
func (m *Memory) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

// Connect places a member in a voice channel; an empty channelID disconnects.
func (m *Memory) Connect(memberID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channelID == "" {
		delete(m.voice, memberID)
		return
	}
	m.voice[memberID] = channelID
}

// Grant gives a member manage-channels on a channel.
func (m *Memory) Grant(memberID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantLocked(memberID, channelID)
}

func (m *Memory) grantLocked(memberID, channelID string) {
	if m.manage[channelID] == nil {
		m.manage[channelID] = make(map[string]bool)
	}
	m.manage[channelID][memberID] = true
}

// SetInvites replaces the live invite list of a guild, preserving order.
func (m *Memory) SetInvites(guildID string, invites []Invite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[guildID] = append([]Invite(nil), invites...)
}

// SetMemberCount sets the reported member count of a guild.
func (m *Memory) SetMemberCount(guildID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberCount[guildID] = n
}

// HasChannel reports whether a channel currently exists.
func (m *Memory) HasChannel(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channelID]
	return ok
}

// RemoveChannel deletes a channel out of band, as another moderator would.
func (m *Memory) RemoveChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
}

func (m *Memory) CreateVoiceChannel(ctx context.Context, guildID, categoryID, name string, overwrites []Overwrite, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["create"]; err != nil {
		return "", err
	}
	m.nextID++
	ch := Channel{
		ID:       fmt.Sprintf("vc-%d", m.nextID),
		GuildID:  guildID,
		Name:     name,
		Kind:     KindVoice,
		ParentID: categoryID,
	}
	m.channels[ch.ID] = ch
	for _, o := range overwrites {
		if o.Allow&PermManageChannels != 0 {
			m.grantLocked(o.MemberID, ch.ID)
		}
	}
	m.Created = append(m.Created, ch)
	return ch.ID, nil
}

func (m *Memory) MoveMember(ctx context.Context, guildID, memberID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["move"]; err != nil {
		return err
	}
	if _, ok := m.channels[channelID]; !ok {
		return ErrNotFound
	}
	m.voice[memberID] = channelID
	m.Moves = append(m.Moves, memberID+"->"+channelID)
	return nil
}

func (m *Memory) DeleteChannel(ctx context.Context, channelID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["delete"]; err != nil {
		return err
	}
	if _, ok := m.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(m.channels, channelID)
	m.Deleted = append(m.Deleted, channelID)
	return nil
}

func (m *Memory) EditChannelName(ctx context.Context, channelID, name, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["edit"]; err != nil {
		return err
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Name = name
	m.channels[channelID] = ch
	m.Renames = append(m.Renames, channelID+"="+name)
	return nil
}

func (m *Memory) ListInvites(ctx context.Context, guildID string) ([]Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Listings++
	if err := m.Errors["list_invites"]; err != nil {
		return nil, err
	}
	return append([]Invite(nil), m.invites[guildID]...), nil
}

func (m *Memory) FetchInvite(ctx context.Context, code string) (Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["fetch_invite"]; err != nil {
		return Invite{}, err
	}
	for _, list := range m.invites {
		for _, inv := range list {
			if inv.Code == code {
				return inv, nil
			}
		}
	}
	return Invite{}, ErrNotFound
}

func (m *Memory) Channel(ctx context.Context, channelID string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch, nil
}

func (m *Memory) ChannelMemberCount(ctx context.Context, guildID, channelID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["count"]; err != nil {
		return 0, err
	}
	n := 0
	for _, c := range m.voice {
		if c == channelID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) MemberVoiceChannel(ctx context.Context, guildID, memberID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.voice[memberID]
	return c, ok, nil
}

func (m *Memory) MemberCanManage(ctx context.Context, memberID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manage[channelID][memberID], nil
}

func (m *Memory) GuildMemberCount(ctx context.Context, guildID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.memberCount[guildID]
	if !ok {
		return 0, ErrNotFound
	}
	return n, nil
}

func (m *Memory) SendNotification(ctx context.Context, channelID string, n *bus.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errors["send"]; err != nil {
		return err
	}
	m.Sent = append(m.Sent, n)
	return nil
}

// Snapshot returns copies of the recorded call logs.
func (m *Memory) Snapshot() (created []Channel, moves, deleted, renames []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Channel(nil), m.Created...),
		append([]string(nil), m.Moves...),
		append([]string(nil), m.Deleted...),
		append([]string(nil), m.Renames...)
}

var _ Platform = (*Memory)(nil)
var _ Platform = (*Discord)(nil)
