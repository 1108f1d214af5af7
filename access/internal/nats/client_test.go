package nats

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedNats "github.com/incyashraj/ParkShare-sub000/shared/nats"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

type captured struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published []captured
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.published = append(f.published, captured{subject, data})
	return nil
}

func TestPublishUpstream_StampsNode(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{pub: fc, nodeID: "access-7"}

	err := c.PublishUpstream(context.Background(), &proto.UpstreamMessage{
		UserID:      3,
		UserOffline: &proto.UserOffline{UserID: 3, ConnID: 9},
	})
	require.NoError(t, err)
	require.Len(t, fc.published, 1)
	assert.Equal(t, sharedNats.SubjectUpstream, fc.published[0].subject)

	var msg proto.UpstreamMessage
	require.NoError(t, json.Unmarshal(fc.published[0].data, &msg))
	assert.Equal(t, "access-7", msg.NodeID)
	assert.Equal(t, int64(9), msg.UserOffline.ConnID)
}

func TestPublishDownstream_Broadcast(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{pub: fc, nodeID: "access-7"}

	event, err := proto.NewEvent(proto.EventTypingIndicator, &proto.TypingIndicator{ConversationID: 5, UserID: 3, Typing: true})
	require.NoError(t, err)
	require.NoError(t, c.PublishDownstream(context.Background(), &proto.DownstreamMessage{ConversationID: 5, Event: event}))

	require.Len(t, fc.published, 1)
	assert.Equal(t, sharedNats.SubjectBroadcast, fc.published[0].subject)
}
