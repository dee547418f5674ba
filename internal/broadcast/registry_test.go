// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccobservatory/core/internal/transcript"
)

type fakeSender struct {
	mu       sync.Mutex
	messages [][]byte
	failNext bool
}

func (f *fakeSender) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("write failed")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestAccept_DefaultSubscriptions(t *testing.T) {
	r := New(4)
	sender := &fakeSender{}

	clientID, err := r.Accept(sender, transcript.UserInfo{UserID: "u1"}, nil)

	require.NoError(t, err)
	assert.NotEmpty(t, clientID)
	assert.Equal(t, 1, sender.count(), "connection_established should be sent")

	sess, ok := r.Session(clientID)
	require.True(t, ok)
	_, hasAll := sess.Subscriptions[transcript.SubAllConversations]
	_, hasFile := sess.Subscriptions[transcript.SubFileEvents]
	assert.True(t, hasAll)
	assert.True(t, hasFile)
}

func TestDisconnect_RemovesFromIndexAndTable(t *testing.T) {
	r := New(4)
	clientID, err := r.Accept(&fakeSender{}, transcript.UserInfo{}, nil)
	require.NoError(t, err)

	r.Disconnect(clientID)

	_, ok := r.Session(clientID)
	assert.False(t, ok)
	assert.Empty(t, r.Recipients(transcript.SubAllConversations))
}

func TestDisconnect_Idempotent(t *testing.T) {
	r := New(4)
	r.Disconnect("never-existed")
}

func TestRecipients_NoFilterAddressesEveryone(t *testing.T) {
	r := New(4)
	id1, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, map[string]struct{}{"project:p1": {}})
	id2, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, map[string]struct{}{transcript.SubAllConversations: {}})

	recipients := r.Recipients("")

	assert.ElementsMatch(t, []string{id1, id2}, recipients)
}

func TestRecipients_FilterUnionsWithAllConversations(t *testing.T) {
	r := New(4)
	idProject, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, map[string]struct{}{"project:p1": {}})
	idFirehose, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, map[string]struct{}{transcript.SubAllConversations: {}})
	idOther, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, map[string]struct{}{"project:p2": {}})

	recipients := r.Recipients("project:p1")

	assert.ElementsMatch(t, []string{idProject, idFirehose}, recipients)
	assert.NotContains(t, recipients, idOther)
}

func TestBroadcast_DeliversToAddressedSessions(t *testing.T) {
	r := New(4)
	sender1 := &fakeSender{}
	sender2 := &fakeSender{}
	r.Accept(sender1, transcript.UserInfo{}, map[string]struct{}{"project:p1": {}})
	r.Accept(sender2, transcript.UserInfo{}, map[string]struct{}{"project:p2": {}})

	failed := r.BroadcastFiltered(transcript.Envelope{Type: "conversation_update", Data: map[string]string{"a": "b"}}, "project:p1")

	assert.Empty(t, failed)
	assert.Equal(t, 2, sender1.count()) // connection_established + broadcast
	assert.Equal(t, 1, sender2.count())
}

func TestBroadcast_FailedSendsCollectedNotDisconnected(t *testing.T) {
	r := New(4)
	sender := &fakeSender{}
	clientID, _ := r.Accept(sender, transcript.UserInfo{}, nil)
	sender.failNext = true

	failed := r.Broadcast(transcript.Envelope{Type: "file_created", Data: map[string]string{}})

	assert.Equal(t, []string{clientID}, failed)
	_, ok := r.Session(clientID)
	assert.True(t, ok, "registry must not auto-disconnect a failed send")
}

func TestBroadcast_AllConversationsIsFirehose(t *testing.T) {
	r := New(4)
	sender := &fakeSender{}
	r.Accept(sender, transcript.UserInfo{}, map[string]struct{}{"project:unrelated": {}})

	failed := r.BroadcastFiltered(transcript.Envelope{Type: "x", Data: nil}, transcript.SubAllConversations)

	assert.Empty(t, failed)
	assert.Equal(t, 2, sender.count())
}

func TestBroadcast_NoSerializableDataFailsAllAddressed(t *testing.T) {
	r := New(4)
	id1, _ := r.Accept(&fakeSender{}, transcript.UserInfo{}, nil)

	failed := r.Broadcast(transcript.Envelope{Type: "bad", Data: func() {}})

	assert.Equal(t, []string{id1}, failed)
}

func TestSend_BumpsMessageCount(t *testing.T) {
	r := New(4)
	sender := &fakeSender{}
	clientID, _ := r.Accept(sender, transcript.UserInfo{}, nil)

	err := r.Send(clientID, transcript.Envelope{Type: "x"})

	require.NoError(t, err)
	sess, _ := r.Session(clientID)
	assert.Equal(t, uint64(2), sess.MessageCount)
}
