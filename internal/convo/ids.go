package convo

import (
	"errors"

	"github.com/google/uuid"

	"duologue/internal/llmclient"
)

func newConversationID() string {
	return uuid.NewString()
}

// asLLMClientError unwraps err looking for an *llmclient.Error so the
// manager can classify failures onto the bus error taxonomy.
func asLLMClientError(err error) (*llmclient.Error, bool) {
	var lcErr *llmclient.Error
	if errors.As(err, &lcErr) {
		return lcErr, true
	}
	return nil, false
}
