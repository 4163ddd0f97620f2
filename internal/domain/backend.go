package domain

import "context"

// Backend is the conversational service that turns a prompt envelope into a
// reply. The contract is opaque request/response; there is no retry here.
type Backend interface {
	Name() string
	SendMessage(ctx context.Context, env PromptEnvelope, userKey string) (ReplyEnvelope, error)
	Healthy(ctx context.Context) error
}
