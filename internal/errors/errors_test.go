package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientMessage(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantMsg    string
		wantStatus int
	}{
		{"not found sentinel", ErrTransactionNotFound, MessageNotFound, http.StatusNotFound},
		{"not found with details", NewTransactionNotFoundError(map[string]interface{}{"intent": "hash"}), MessageNotFound, http.StatusNotFound},
		{"date pair", NewDateRangePairError(), MessageDateRangePair, http.StatusBadRequest},
		{"invalid parameter", NewInvalidParameterError("take", "too big"), "invalid parameter 'take': too big", http.StatusBadRequest},
		{"rate limit", NewRateLimitError(), MessageRateLimited, http.StatusTooManyRequests},
		{"database", NewDatabaseError("insert", stderrors.New("pq: duplicate")), MessageInternal, http.StatusInternalServerError},
		{"cache", NewCacheError("get", stderrors.New("dial tcp")), MessageInternal, http.StatusInternalServerError},
		{"provider", NewProviderError("binance", context.DeadlineExceeded), MessageInternal, http.StatusBadGateway},
		{"plain error", stderrors.New("boom"), MessageInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, ClientMessage(tt.err))
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(tt.err))
		})
	}
}

func TestCategorizeWrapped(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NewTransactionNotFoundError(nil))

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.ErrorIs(t, wrapped, ErrTransactionNotFound)
	assert.Nil(t, Categorize(nil))
	assert.Equal(t, CategorySystem, Categorize(stderrors.New("x")).Category)
}

func TestCauseIsPreserved(t *testing.T) {
	err := NewDatabaseError("list transactions", context.Canceled)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "DATABASE_ERROR")
	assert.Contains(t, err.Error(), "caused by: context canceled")
	assert.Equal(t, "list transactions", err.Details["operation"])
}
