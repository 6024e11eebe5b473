package server

import (
	"context"
)

// JoinChannel subscribes c to a channel room once the user is confirmed to
// belong to the channel's server.
func (cs *ChatServer) JoinChannel(ctx context.Context, c *Client, channelId string) error {
	ok, err := cs.db.IsChannelAccessible(ctx, c.user.Id, channelId)
	if err != nil {
		return internalError("Failed to join channel", err)
	}
	if !ok {
		return accessDenied("Access denied")
	}

	cs.registry.join(c, ChannelRoom(channelId))
	c.queueMessage(newServerMessage(EventChannelJoined, RoomJoined{ChannelId: channelId}))
	return nil
}

func (cs *ChatServer) LeaveChannel(c *Client, channelId string) {
	cs.leaveRoom(c, ChannelRoom(channelId))
}

func (cs *ChatServer) JoinDM(ctx context.Context, c *Client, dmId string) error {
	ok, err := cs.db.IsDMParticipant(ctx, c.user.Id, dmId)
	if err != nil {
		return internalError("Failed to join conversation", err)
	}
	if !ok {
		return accessDenied("Access denied")
	}

	cs.registry.join(c, DMRoom(dmId))
	c.queueMessage(newServerMessage(EventDMJoined, RoomJoined{DmId: dmId}))
	return nil
}

func (cs *ChatServer) LeaveDM(c *Client, dmId string) {
	cs.leaveRoom(c, DMRoom(dmId))
}

// SubscribeServer joins a server room after connect, for servers the user
// joined mid-session.
func (cs *ChatServer) SubscribeServer(ctx context.Context, c *Client, serverId string) error {
	_, ok, err := cs.db.IsServerMember(ctx, c.user.Id, serverId)
	if err != nil {
		return internalError("Failed to subscribe to server", err)
	}
	if !ok {
		return accessDenied("Access denied")
	}

	cs.registry.join(c, ServerRoom(serverId))
	c.queueMessage(newServerMessage(EventServerJoined, RoomJoined{ServerId: serverId}))
	return nil
}

func (cs *ChatServer) UnsubscribeServer(c *Client, serverId string) {
	cs.registry.leave(c, ServerRoom(serverId))
}

// EvictFromServer forces every connection of userId out of the server room
// and the given channel rooms. Callers use it when membership is revoked.
func (cs *ChatServer) EvictFromServer(userId, serverId string, channelIds []string) {
	for _, c := range cs.registry.connectionsForUser(userId) {
		cs.registry.leave(c, ServerRoom(serverId))
		for _, id := range channelIds {
			cs.leaveRoom(c, ChannelRoom(id))
		}
	}
	cs.log.Printf("evicted user %s from server %s", userId, serverId)
}

// leaveRoom removes c from room and ends any typing indicator c had there.
func (cs *ChatServer) leaveRoom(c *Client, room string) {
	if !cs.registry.leave(c, room) {
		return
	}

	cs.endTyping(c, room, c)
}
