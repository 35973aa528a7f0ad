package engine

import (
	"bytes"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

// Role is a member's privilege level within a group
type Role uint8

const (
	RoleMember Role = iota
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	default:
		return "member"
	}
}

// Member is one entry in a group roster. PubKey stays zero until the
// key is learned (from an invite accept or SetMemberKey); rotations
// skip members without one.
type Member struct {
	NodeID   protocol.NodeID
	Role     Role
	JoinedAt int64
	PubKey   [crypto.KeySize]byte
}

// Group is this node's view of one group: the roster and the master
// secret history
type Group struct {
	ID         protocol.GroupID
	Name       string
	CreatedAt  int64
	KeyVersion uint32
	Members    []*Member

	// Master secret per key version. Old versions stay readable so
	// messages encrypted just before a rotation still decrypt.
	secrets map[uint32][crypto.SecretSize]byte
}

// member returns the roster entry for a node, or nil
func (g *Group) member(id protocol.NodeID) *Member {
	for _, m := range g.Members {
		if m.NodeID == id {
			return m
		}
	}
	return nil
}

// removeMember drops a node from the roster
func (g *Group) removeMember(id protocol.NodeID) bool {
	for i, m := range g.Members {
		if m.NodeID == id {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return true
		}
	}
	return false
}

// adminCount counts members with admin rights, the owner included
func (g *Group) adminCount() int {
	count := 0
	for _, m := range g.Members {
		if m.Role >= RoleAdmin {
			count++
		}
	}
	return count
}

// owner returns the owner's roster entry, or nil
func (g *Group) owner() *Member {
	for _, m := range g.Members {
		if m.Role == RoleOwner {
			return m
		}
	}
	return nil
}

// oldestAdmin returns the longest-standing admin, ties broken by node
// ID so every member picks the same one
func (g *Group) oldestAdmin() *Member {
	var oldest *Member
	for _, m := range g.Members {
		if m.Role != RoleAdmin {
			continue
		}
		if oldest == nil || m.JoinedAt < oldest.JoinedAt ||
			(m.JoinedAt == oldest.JoinedAt && bytes.Compare(m.NodeID[:], oldest.NodeID[:]) < 0) {
			oldest = m
		}
	}
	return oldest
}

// Invite is a received group invite awaiting accept or decline
type Invite struct {
	GroupID    protocol.GroupID
	Inviter    protocol.NodeID
	Name       string
	KeyVersion uint32
	ReceivedAt int64
	secret     [crypto.SecretSize]byte
}

// InviteInfo is a read-only view of one pending invite
type InviteInfo struct {
	GroupID string `json:"group_id"`
	Inviter string `json:"inviter"`
	Name    string `json:"name"`
}

// PendingInvites lists received invites awaiting accept or decline
func (e *Engine) PendingInvites() []InviteInfo {
	infos := make([]InviteInfo, 0, len(e.invites))
	for _, inv := range e.invites {
		infos = append(infos, InviteInfo{
			GroupID: inv.GroupID.String(),
			Inviter: inv.Inviter.String(),
			Name:    inv.Name,
		})
	}
	return infos
}

// ===== GROUP OPERATIONS =====

// CreateGroup creates a group with this node as owner and a fresh
// master secret at key version 1
func (e *Engine) CreateGroup(name string) (protocol.GroupID, error) {
	if len(name) == 0 || len(name) > 255 || !utf8.ValidString(name) {
		return protocol.GroupID{}, fmt.Errorf("%w: bad group name", ErrInvalidParameter)
	}

	secret, err := crypto.NewMasterSecret()
	if err != nil {
		return protocol.GroupID{}, fmt.Errorf("failed to generate group secret: %v", err)
	}

	now := e.now()
	g := &Group{
		ID:         protocol.NewGroupID(),
		Name:       name,
		CreatedAt:  now,
		KeyVersion: 1,
		Members: []*Member{
			{NodeID: e.self, Role: RoleOwner, JoinedAt: now, PubKey: e.keys.Public},
		},
		secrets: map[uint32][crypto.SecretSize]byte{1: secret},
	}
	e.groups[g.ID] = g

	log.Printf("👥 Created group %s (%s)", name, g.ID.String()[:8])
	return g.ID, nil
}

// InviteToGroup invites a peer. The current master secret travels
// sealed to the invitee's public key; membership takes effect when
// their accept arrives.
func (e *Engine) InviteToGroup(groupID protocol.GroupID, invitee protocol.NodeID, inviteePub [crypto.KeySize]byte) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}

	me := g.member(e.self)
	if me == nil {
		return fmt.Errorf("%w: not in group", ErrNotMember)
	}
	if me.Role < RoleAdmin {
		return fmt.Errorf("%w: invites need admin rights", ErrNotAdmin)
	}
	if protocol.IsZeroNodeID(invitee) || inviteePub == ([crypto.KeySize]byte{}) {
		return fmt.Errorf("%w: bad invitee", ErrInvalidParameter)
	}
	if g.member(invitee) != nil {
		return fmt.Errorf("%w: already a member", ErrAlreadyExists)
	}
	if len(g.Members) >= e.cfg.MaxGroupMembers {
		return fmt.Errorf("%w: group at %d members", ErrFull, len(g.Members))
	}

	secret := g.secrets[g.KeyVersion]
	sealed, err := crypto.Seal(secret[:], inviteePub)
	if err != nil {
		return fmt.Errorf("failed to seal group secret: %v", err)
	}

	body := (&protocol.GroupInvitePacket{
		GroupID:      groupID,
		Inviter:      e.self,
		KeyVersion:   g.KeyVersion,
		Name:         g.Name,
		SealedSecret: sealed,
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeGroupInvite, body)
	if err != nil {
		return err
	}

	e.sendTracked(invitee, pkt)
	log.Printf("👥 Invited %s to group %s", shortNode(invitee), g.Name)
	return nil
}

// AcceptGroupInvite joins a group from a received invite. The accept
// carries this node's public key so the inviter can seal future key
// rotations to it.
func (e *Engine) AcceptGroupInvite(groupID protocol.GroupID) error {
	inv, ok := e.invites[groupID]
	if !ok {
		return fmt.Errorf("%w: no invite for group", ErrNotFound)
	}
	delete(e.invites, groupID)

	now := e.now()
	g := &Group{
		ID:         groupID,
		Name:       inv.Name,
		CreatedAt:  now,
		KeyVersion: inv.KeyVersion,
		Members: []*Member{
			{NodeID: inv.Inviter, Role: RoleAdmin, JoinedAt: now},
			{NodeID: e.self, Role: RoleMember, JoinedAt: now, PubKey: e.keys.Public},
		},
		secrets: map[uint32][crypto.SecretSize]byte{inv.KeyVersion: inv.secret},
	}
	e.groups[groupID] = g

	body := (&protocol.GroupInviteAcceptPacket{
		GroupID: groupID,
		Member:  e.self,
		PubKey:  e.keys.Public,
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeGroupInviteAccept, body)
	if err != nil {
		return err
	}

	e.sendTracked(inv.Inviter, pkt)
	log.Printf("👥 Joined group %s (%s)", g.Name, groupID.String()[:8])
	return nil
}

// DeclineGroupInvite discards a received invite
func (e *Engine) DeclineGroupInvite(groupID protocol.GroupID) error {
	if _, ok := e.invites[groupID]; !ok {
		return fmt.Errorf("%w: no invite for group", ErrNotFound)
	}
	delete(e.invites, groupID)
	return nil
}

// LeaveGroup announces departure to every member and drops all local
// group state. The remaining owner rotates the key on receipt.
func (e *Engine) LeaveGroup(groupID protocol.GroupID) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}

	body := (&protocol.GroupUpdatePacket{
		GroupID:    groupID,
		UpdateType: protocol.GroupMemberLeft,
		Subject:    e.self,
		KeyVersion: g.KeyVersion,
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeGroupUpdate, body)
	if err != nil {
		return err
	}
	pkt.Header.SetFlag(protocol.FlagBroadcast)

	for _, m := range g.Members {
		if m.NodeID == e.self {
			continue
		}
		e.sendTracked(m.NodeID, pkt)
	}

	delete(e.groups, groupID)
	log.Printf("👥 Left group %s", g.Name)
	return nil
}

// RemoveMember removes a member. Admins remove plain members; only the
// owner removes admins. The departed roster triggers a key rotation,
// and the removed member is told alongside the rest.
func (e *Engine) RemoveMember(groupID protocol.GroupID, target protocol.NodeID) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}

	me := g.member(e.self)
	if me == nil {
		return fmt.Errorf("%w: not in group", ErrNotMember)
	}
	if me.Role < RoleAdmin {
		return fmt.Errorf("%w: removals need admin rights", ErrNotAdmin)
	}
	if target == e.self {
		return fmt.Errorf("%w: use LeaveGroup to remove yourself", ErrInvalidParameter)
	}

	tm := g.member(target)
	if tm == nil {
		return fmt.Errorf("%w: not a member", ErrNotFound)
	}
	if tm.Role == RoleOwner {
		return fmt.Errorf("%w: the owner cannot be removed", ErrNotAdmin)
	}
	if tm.Role == RoleAdmin && me.Role != RoleOwner {
		return fmt.Errorf("%w: removing an admin needs the owner", ErrNotAdmin)
	}

	g.removeMember(target)
	log.Printf("👥 Removed %s from group %s", shortNode(target), g.Name)

	// New roster, new key. The removed member gets the roster notice
	// but no key material.
	e.rotateGroupKey(g)
	e.broadcastGroupUpdate(g, protocol.GroupMemberRemoved, target, []protocol.NodeID{target})
	return nil
}

// PromoteAdmin grants admin rights. Owner only. The roster is
// unchanged as a set, so the key does not rotate.
func (e *Engine) PromoteAdmin(groupID protocol.GroupID, target protocol.NodeID) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}

	me := g.member(e.self)
	if me == nil {
		return fmt.Errorf("%w: not in group", ErrNotMember)
	}
	if me.Role != RoleOwner {
		return fmt.Errorf("%w: promotions need the owner", ErrNotAdmin)
	}

	tm := g.member(target)
	if tm == nil {
		return fmt.Errorf("%w: not a member", ErrNotFound)
	}
	if tm.Role >= RoleAdmin {
		return fmt.Errorf("%w: already an admin", ErrAlreadyExists)
	}
	if g.adminCount() >= e.cfg.MaxGroupAdmins {
		return fmt.Errorf("%w: group at %d admins", ErrFull, g.adminCount())
	}

	tm.Role = RoleAdmin
	log.Printf("👥 Promoted %s to admin of %s", shortNode(target), g.Name)

	e.broadcastGroupUpdate(g, protocol.GroupAdminPromoted, target, []protocol.NodeID{target})
	return nil
}

// DemoteAdmin revokes admin rights. Owner only; the owner itself
// cannot be demoted.
func (e *Engine) DemoteAdmin(groupID protocol.GroupID, target protocol.NodeID) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}

	me := g.member(e.self)
	if me == nil {
		return fmt.Errorf("%w: not in group", ErrNotMember)
	}
	if me.Role != RoleOwner {
		return fmt.Errorf("%w: demotions need the owner", ErrNotAdmin)
	}

	tm := g.member(target)
	if tm == nil {
		return fmt.Errorf("%w: not a member", ErrNotFound)
	}
	if tm.Role != RoleAdmin {
		return fmt.Errorf("%w: not an admin", ErrInvalidParameter)
	}

	tm.Role = RoleMember
	log.Printf("👥 Demoted %s in group %s", shortNode(target), g.Name)

	e.broadcastGroupUpdate(g, protocol.GroupAdminDemoted, target, []protocol.NodeID{target})
	return nil
}

// SetMemberKey records a member's public key learned out of band, for
// members that joined before we did and never sent us an accept.
// Without a key the member is skipped at rotation time.
func (e *Engine) SetMemberKey(groupID protocol.GroupID, member protocol.NodeID, pubKey [crypto.KeySize]byte) error {
	g, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: unknown group", ErrNotFound)
	}
	m := g.member(member)
	if m == nil {
		return fmt.Errorf("%w: not a member", ErrNotFound)
	}
	m.PubKey = pubKey
	return nil
}

// SendGroupText encrypts a text under the current group key and fans
// it out to every member. One message ID covers the whole fan-out;
// each member's copy is acked and retried separately.
func (e *Engine) SendGroupText(groupID protocol.GroupID, text string) (protocol.MessageID, error) {
	g, ok := e.groups[groupID]
	if !ok {
		return protocol.MessageID{}, fmt.Errorf("%w: unknown group", ErrNotFound)
	}
	if g.member(e.self) == nil {
		return protocol.MessageID{}, fmt.Errorf("%w: not in group", ErrNotMember)
	}
	if err := e.checkText(text); err != nil {
		return protocol.MessageID{}, err
	}

	secret, ok := g.secrets[g.KeyVersion]
	if !ok {
		return protocol.MessageID{}, fmt.Errorf("%w: no key for version %d", ErrNotFound, g.KeyVersion)
	}

	ciphertext, err := crypto.EncryptGroupPayload(secret, g.KeyVersion, []byte(text))
	if err != nil {
		return protocol.MessageID{}, fmt.Errorf("failed to encrypt group text: %v", err)
	}

	body := (&protocol.GroupTextPacket{
		GroupID:    groupID,
		Sender:     e.self,
		KeyVersion: g.KeyVersion,
		Ciphertext: ciphertext,
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeGroupText, body)
	if err != nil {
		return protocol.MessageID{}, err
	}
	pkt.Header.SetFlag(protocol.FlagBroadcast)

	now := e.now()
	msg := &Message{
		ID:        pkt.Header.MsgID,
		GroupID:   groupID,
		Text:      text,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.messages[msg.ID] = msg

	recipients, sent := 0, 0
	for _, m := range g.Members {
		if m.NodeID == e.self {
			continue
		}
		recipients++
		if e.sendTracked(m.NodeID, pkt) {
			sent++
		}
	}

	if recipients == 0 || sent > 0 {
		e.setStatus(msg, StatusSending)
		e.setStatus(msg, StatusSent)
		log.Printf("📤 Sent group message %s to %d members of %s", shortMsg(msg.ID), recipients, g.Name)
	}

	return msg.ID, nil
}

// ===== KEY ROTATION =====

// rotateGroupKey generates a fresh master secret at the next version
// and seals it to every member with a known public key. Members
// without one are skipped and heal through SetMemberKey plus the next
// rotation.
func (e *Engine) rotateGroupKey(g *Group) {
	secret, err := crypto.NewMasterSecret()
	if err != nil {
		log.Printf("⚠️ Key rotation for group %s failed: %v", g.Name, err)
		return
	}

	g.KeyVersion++
	g.secrets[g.KeyVersion] = secret
	log.Printf("🔑 Rotated group %s to key version %d", g.Name, g.KeyVersion)

	for _, m := range g.Members {
		if m.NodeID == e.self {
			continue
		}
		if m.PubKey == ([crypto.KeySize]byte{}) {
			log.Printf("⚠️ No public key for %s, skipping key delivery", shortNode(m.NodeID))
			continue
		}

		sealed, err := crypto.Seal(secret[:], m.PubKey)
		if err != nil {
			log.Printf("⚠️ Failed to seal group key for %s: %v", shortNode(m.NodeID), err)
			continue
		}

		body := (&protocol.GroupKeyUpdatePacket{
			GroupID:      g.ID,
			KeyVersion:   g.KeyVersion,
			SealedSecret: sealed,
		}).Encode()

		pkt, err := e.newPacket(protocol.TypeGroupKeyUpdate, body)
		if err != nil {
			continue
		}
		pkt.Header.SetFlag(protocol.FlagBroadcast)
		e.sendTracked(m.NodeID, pkt)
	}
}

// broadcastGroupUpdate fans a roster notice out to every member
// except this node and the subject. alsoTo adds recipients outside
// the roster, such as a member that was just removed.
func (e *Engine) broadcastGroupUpdate(g *Group, updateType uint8, subject protocol.NodeID, alsoTo []protocol.NodeID) {
	body := (&protocol.GroupUpdatePacket{
		GroupID:    g.ID,
		UpdateType: updateType,
		Subject:    subject,
		KeyVersion: g.KeyVersion,
	}).Encode()

	pkt, err := e.newPacket(protocol.TypeGroupUpdate, body)
	if err != nil {
		return
	}
	pkt.Header.SetFlag(protocol.FlagBroadcast)

	for _, m := range g.Members {
		if m.NodeID == e.self || m.NodeID == subject {
			continue
		}
		e.sendTracked(m.NodeID, pkt)
	}
	for _, peer := range alsoTo {
		e.sendTracked(peer, pkt)
	}
}

// ===== INBOUND GROUP HANDLERS =====

// handleGroupInvite stores a received invite for the host to accept
// or decline
func (e *Engine) handleGroupInvite(peer protocol.NodeID, body []byte) bool {
	inv := &protocol.GroupInvitePacket{}
	if err := inv.Decode(body); err != nil {
		return false
	}
	if inv.Inviter != peer {
		return false
	}
	if _, ok := e.groups[inv.GroupID]; ok {
		return true // already joined
	}

	secretBytes, err := crypto.Open(inv.SealedSecret, e.keys)
	if err != nil || len(secretBytes) != crypto.SecretSize {
		log.Printf("⚠️ Invite to %s carries an unreadable secret", inv.Name)
		return false
	}

	invite := &Invite{
		GroupID:    inv.GroupID,
		Inviter:    inv.Inviter,
		Name:       inv.Name,
		KeyVersion: inv.KeyVersion,
		ReceivedAt: e.now(),
	}
	copy(invite.secret[:], secretBytes)
	e.invites[inv.GroupID] = invite

	log.Printf("👥 Invited to group %s by %s", inv.Name, shortNode(peer))

	if e.OnGroupInviteReceived != nil {
		e.OnGroupInviteReceived(inv.GroupID, inv.Inviter, inv.Name)
	}
	return true
}

// handleGroupInviteAccept adds the accepting member to the roster and
// rotates the key so the whole group, new member included, moves to a
// fresh version
func (e *Engine) handleGroupInviteAccept(peer protocol.NodeID, body []byte) bool {
	accept := &protocol.GroupInviteAcceptPacket{}
	if err := accept.Decode(body); err != nil {
		return false
	}
	if accept.Member != peer {
		return false
	}

	g, ok := e.groups[accept.GroupID]
	if !ok {
		return false
	}
	me := g.member(e.self)
	if me == nil || me.Role < RoleAdmin {
		return false
	}

	if g.member(accept.Member) != nil {
		return true // joined through an earlier accept
	}
	if len(g.Members) >= e.cfg.MaxGroupMembers {
		log.Printf("⚠️ Group %s is full, ignoring accept from %s", g.Name, shortNode(peer))
		return true
	}

	g.Members = append(g.Members, &Member{
		NodeID:   accept.Member,
		Role:     RoleMember,
		JoinedAt: e.now(),
		PubKey:   accept.PubKey,
	})
	log.Printf("👥 %s joined group %s", shortNode(accept.Member), g.Name)

	e.rotateGroupKey(g)
	e.broadcastGroupUpdate(g, protocol.GroupMemberAdded, accept.Member, nil)

	if e.OnMembershipChanged != nil {
		e.OnMembershipChanged(accept.GroupID, protocol.GroupMemberAdded, accept.Member)
	}
	return true
}

// handleGroupKeyUpdate unseals a rotated master secret and stores it.
// Older versions arriving late still get stored; the current version
// never moves backwards.
func (e *Engine) handleGroupKeyUpdate(peer protocol.NodeID, body []byte) bool {
	update := &protocol.GroupKeyUpdatePacket{}
	if err := update.Decode(body); err != nil {
		return false
	}

	g, ok := e.groups[update.GroupID]
	if !ok {
		return false
	}

	// A roster entry known to be a plain member has no business
	// rotating keys. Unknown senders pass: our roster view is partial
	// and the real admin set may be wider.
	if m := g.member(peer); m != nil && m.Role < RoleAdmin {
		return false
	}

	secretBytes, err := crypto.Open(update.SealedSecret, e.keys)
	if err != nil || len(secretBytes) != crypto.SecretSize {
		log.Printf("⚠️ Unreadable key update for group %s from %s", g.Name, shortNode(peer))
		return false
	}

	var secret [crypto.SecretSize]byte
	copy(secret[:], secretBytes)
	g.secrets[update.KeyVersion] = secret
	if update.KeyVersion > g.KeyVersion {
		g.KeyVersion = update.KeyVersion
	}

	log.Printf("🔑 Group %s advanced to key version %d", g.Name, update.KeyVersion)
	return true
}

// handleGroupText decrypts a group message with the secret for the
// packet's key version. Possession of that key is what proves the
// sender belongs here; a missing version drops the packet unacked so
// the sender retries after the key update lands.
func (e *Engine) handleGroupText(peer protocol.NodeID, body []byte) bool {
	gt := &protocol.GroupTextPacket{}
	if err := gt.Decode(body); err != nil {
		return false
	}

	g, ok := e.groups[gt.GroupID]
	if !ok {
		return false
	}

	secret, ok := g.secrets[gt.KeyVersion]
	if !ok {
		log.Printf("⚠️ No key version %d yet for group %s", gt.KeyVersion, g.Name)
		return false
	}

	plain, err := crypto.DecryptGroupPayload(secret, gt.KeyVersion, gt.Ciphertext)
	if err != nil {
		log.Printf("⚠️ Failed to decrypt group text in %s: %v", g.Name, err)
		return false
	}

	text := string(plain)
	if len(text) == 0 || len(text) > e.cfg.MaxTextLen || !utf8.ValidString(text) {
		return false
	}

	log.Printf("📨 Group message in %s from %s (%d bytes)", g.Name, shortNode(gt.Sender), len(text))

	if e.OnGroupMessageReceived != nil {
		e.OnGroupMessageReceived(gt.GroupID, gt.Sender, text)
	}
	return true
}

// handleGroupUpdate applies a roster notice. When this node is the
// designated rotator after a departure (the owner, or the oldest
// admin when the owner itself left) it rotates the key.
func (e *Engine) handleGroupUpdate(peer protocol.NodeID, body []byte) bool {
	update := &protocol.GroupUpdatePacket{}
	if err := update.Decode(body); err != nil {
		return false
	}

	g, ok := e.groups[update.GroupID]
	if !ok {
		return false
	}

	// Departures may only be announced by the leaver; everything else
	// is rejected when the sender is known to be a plain member
	if update.UpdateType == protocol.GroupMemberLeft {
		if update.Subject != peer {
			return false
		}
	} else if m := g.member(peer); m != nil && m.Role < RoleAdmin {
		return false
	}

	switch update.UpdateType {
	case protocol.GroupMemberAdded:
		if g.member(update.Subject) == nil && len(g.Members) < e.cfg.MaxGroupMembers {
			g.Members = append(g.Members, &Member{
				NodeID:   update.Subject,
				Role:     RoleMember,
				JoinedAt: e.now(),
			})
			log.Printf("👥 %s joined group %s", shortNode(update.Subject), g.Name)
		}

	case protocol.GroupMemberRemoved:
		if update.Subject == e.self {
			delete(e.groups, update.GroupID)
			log.Printf("👥 Removed from group %s", g.Name)
		} else {
			g.removeMember(update.Subject)
			log.Printf("👥 %s removed from group %s", shortNode(update.Subject), g.Name)
		}

	case protocol.GroupMemberLeft:
		leaver := g.member(update.Subject)
		if leaver == nil {
			return true // roster notice about someone we never knew
		}
		leaverRole := leaver.Role
		g.removeMember(update.Subject)
		log.Printf("👥 %s left group %s", shortNode(update.Subject), g.Name)

		rotator := g.owner()
		if leaverRole == RoleOwner || rotator == nil {
			rotator = g.oldestAdmin()
		}
		if rotator != nil && rotator.NodeID == e.self {
			e.rotateGroupKey(g)
		}

	case protocol.GroupAdminPromoted:
		if m := g.member(update.Subject); m != nil && m.Role == RoleMember {
			m.Role = RoleAdmin
		}

	case protocol.GroupAdminDemoted:
		if m := g.member(update.Subject); m != nil && m.Role == RoleAdmin {
			m.Role = RoleMember
		}

	default:
		return false
	}

	if e.OnMembershipChanged != nil {
		e.OnMembershipChanged(update.GroupID, update.UpdateType, update.Subject)
	}
	return true
}
