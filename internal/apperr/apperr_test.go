package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	req := require.New(t)

	err := fmt.Errorf("pinnedRepo.Pin: %w", E(AlreadyPinned, "pin", "message already pinned"))
	req.True(errors.Is(err, ErrAlreadyPinned))
	req.False(errors.Is(err, ErrConflict))
	req.Equal(AlreadyPinned, KindOf(err))
	req.Equal("message already pinned", PublicMessage(err))
}

func TestWrap_KeepsInnerKind(t *testing.T) {
	req := require.New(t)

	inner := E(NotFound, "msgRepo.GetByID", "message not found")
	err := Wrap(StorageFailure, "service.UpdateMessage", inner)
	req.Equal(NotFound, KindOf(err))
	req.Equal("message not found", PublicMessage(err))

	err = Wrap(StorageFailure, "msgRepo.Create", errors.New("connection reset"))
	req.Equal(StorageFailure, KindOf(err))
	req.True(Retryable(err))
	req.Equal("storage temporarily unavailable", PublicMessage(err))
	req.Nil(Wrap(Internal, "noop", nil))
}

func TestKindOf_ForeignErrorIsInternal(t *testing.T) {
	req := require.New(t)
	req.Equal(Internal, KindOf(errors.New("boom")))
	req.Equal("internal error", PublicMessage(errors.New("boom")))
	req.Equal(Kind(""), KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{NotParticipant, http.StatusForbidden},
		{Unauthorized, http.StatusForbidden},
		{Validation, http.StatusBadRequest},
		{InvalidOption, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{AlreadyPinned, http.StatusConflict},
		{PollExpired, http.StatusConflict},
		{AlreadyPromoted, http.StatusConflict},
		{StorageFailure, http.StatusServiceUnavailable},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			require.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
