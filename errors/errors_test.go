package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhimiaox/zmqx-retained/consts"
)

func TestCollaborator(t *testing.T) {
	cause := New("disk full")

	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantSame   bool
		collabType bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "plain", err: cause, collabType: true},
		{name: "closed", err: ErrClosed, wantSame: true},
		{name: "queue_full", err: fmt.Errorf("submit: %w", ErrQueueFull), wantSame: true},
		{name: "already_wrapped", err: &CollaboratorError{Op: "put", Bucket: 2, Err: cause}, wantSame: true, collabType: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Collaborator("get", 7, tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			if tt.wantSame {
				assert.Equal(t, tt.err, got)
			}
			assert.Equal(t, tt.collabType, Is(got, ErrCollaboratorFailure))
		})
	}
}

func TestCollaboratorError_Unwrap(t *testing.T) {
	cause := New("boom")
	err := Collaborator("clear", 3, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrCollaboratorFailure)
	assert.EqualError(t, err, "clear (bucket 3): boom")

	var ce *CollaboratorError
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, "clear", ce.Op)
		assert.Equal(t, 3, ce.Bucket)
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("decode: %w", NewErrorf(consts.MalformedPacket, "topic length %d", 1000))

	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, consts.MalformedPacket, Unwrap(err).Code)
	assert.Equal(t, consts.UnspecifiedError, Unwrap(New("other")).Code)
	assert.Nil(t, Unwrap(nil))
}
