package conversation

import (
	"go.uber.org/zap"

	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/provider"
)

// Build compiles the conversation workflow:
//
//	define_scope -> write_code -> await_user -> classify_intent
//	classify_intent --continue_coding--> write_code
//	classify_intent --finish_conversation--> farewell -> END
//
// The router's default target is write_code, so an unrecognized
// classification continues the conversation rather than ending it.
func Build(runner provider.Runner, docs provider.DocLister, logger *zap.Logger) (*graph.Graph, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	nodes, err := NewNodes(runner, docs, logger)
	if err != nil {
		return nil, err
	}

	return graph.NewBuilder(schema).
		AddNode(NodeDefineScope, nodes.DefineScope).
		AddNode(NodeWriteCode, nodes.WriteCode).
		AddNode(NodeAwaitUser, nodes.AwaitUser).
		AddNode(NodeClassifyIntent, nodes.ClassifyIntent).
		AddNode(NodeFarewell, nodes.Farewell).
		SetEntry(NodeDefineScope).
		AddEdge(NodeDefineScope, NodeWriteCode).
		AddEdge(NodeWriteCode, NodeAwaitUser).
		AddEdge(NodeAwaitUser, NodeClassifyIntent).
		AddConditionalEdge(NodeClassifyIntent, map[string]string{
			IntentContinue: NodeWriteCode,
			IntentFinish:   NodeFarewell,
		}, NodeWriteCode).
		AddEdge(NodeFarewell, graph.END).
		Build()
}
