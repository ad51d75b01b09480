package conversation

import (
	"encoding/json"

	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/types"
)

// State fields of a conversation thread.
const (
	// FieldLatestUserMessage holds the most recent human input. It is
	// replaced on every resume and cleared once the coder consumes it.
	FieldLatestUserMessage = "latest_user_message"
	// FieldScope holds the agreed project scope.
	FieldScope = "scope"
	// FieldMessages is the append-only conversation log.
	FieldMessages = "messages"
	// FieldIntent records the router's latest classification.
	FieldIntent = "intent"
)

// Node names.
const (
	NodeDefineScope    = "define_scope"
	NodeWriteCode      = "write_code"
	NodeAwaitUser      = "await_user"
	NodeClassifyIntent = "classify_intent"
	NodeFarewell       = "farewell"
)

// Intent route keys produced by the classifier.
const (
	IntentContinue = "continue_coding"
	IntentFinish   = "finish_conversation"
)

// NewSchema declares the conversation state. The message log is
// append-only; everything else is replaced wholesale.
func NewSchema() (*graph.Schema, error) {
	return graph.NewSchema(
		graph.Field{Name: FieldLatestUserMessage, Policy: graph.PolicyReplace, Default: ""},
		graph.Field{Name: FieldScope, Policy: graph.PolicyReplace, Default: ""},
		graph.Field{Name: FieldMessages, Policy: graph.PolicyAppend, Default: []any{}},
		graph.Field{Name: FieldIntent, Policy: graph.PolicyReplace, Default: ""},
	)
}

// DecodeMessages recovers the typed message log from thread state.
// Checkpointed state round-trips through JSON, so entries may be raw
// maps rather than Message values.
func DecodeMessages(st graph.State) ([]types.Message, error) {
	raw, ok := st[FieldMessages]
	if !ok {
		return nil, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return types.UnmarshalBatch(buf)
}

func userMessage(st graph.State) string {
	msg, _ := st[FieldLatestUserMessage].(string)
	return msg
}
