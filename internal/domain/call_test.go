package domain

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallIDIsOrderIndependent(t *testing.T) {
	ab, err := NewCallID("alice", "bob")
	require.NoError(t, err)
	ba, err := NewCallID("bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Equal(t, CallID("alice_bob"), ab)
}

func TestNewCallIDRejectsBadInput(t *testing.T) {
	_, err := NewCallID("alice", "alice")
	assert.ErrorIs(t, err, ErrSameUser)

	_, err = NewCallID("", "bob")
	assert.ErrorIs(t, err, ErrUserIDEmpty)

	_, err = NewCallID("alice", UserID(strings.Repeat("x", MaxUserIDLen+1)))
	assert.ErrorIs(t, err, ErrUserIDTooLong)
}

func TestRoleForDesignatesExactlyOneInitiator(t *testing.T) {
	assert.Equal(t, RoleInitiator, RoleFor("alice", "bob"))
	assert.Equal(t, RoleReceiver, RoleFor("bob", "alice"))
	assert.True(t, RoleReceiver.Polite())
	assert.False(t, RoleInitiator.Polite())
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range []Status{StatusCalling, StatusReceiving, StatusConnecting, StatusInCall} {
		assert.True(t, s.Active(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusError, StatusEnded} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.Active(), s)
	}
	assert.False(t, StatusReady.Active())
	assert.Equal(t, "Connected", StatusInCall.Text())
}

func TestSignalValidate(t *testing.T) {
	assert.NoError(t, NewOffer("alice", "v=0").Validate())
	assert.ErrorIs(t, NewAnswer("alice", "").Validate(), ErrEmptySDP)
	assert.ErrorIs(t, NewOffer("", "v=0").Validate(), ErrNoSender)
	assert.ErrorIs(t, Signal{SenderID: "alice", Type: "bye"}.Validate(), ErrUnknownSignal)

	end := NewCandidate("alice", nil)
	assert.NoError(t, end.Validate())
	assert.True(t, end.EndOfCandidates())

	c := NewCandidate("alice", &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"})
	assert.False(t, c.EndOfCandidates())
}

func TestSignalDescription(t *testing.T) {
	assert.Equal(t, webrtc.SDPTypeOffer, NewOffer("a", "v=0").Description().Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, NewAnswer("a", "v=0").Description().Type)
}
