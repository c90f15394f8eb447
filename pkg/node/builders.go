// SPDX-License-Identifier: Apache-2.0
package node

import (
	"github.com/ecanlabs/weave/pkg/errors"
)

// Build dispatches a diagram node type to its builder. Structural kinds
// compile to a pass-through; branching for condition and loop nodes lives on
// the edges the graph compiler synthesizes.
func Build(kind Kind, cfg Config) (Func, error) {
	switch kind {
	case KindLLM:
		return NewLLMNode(cfg), nil
	case KindAPI:
		return NewAPINode(cfg), nil
	case KindTool:
		return NewToolNode(cfg), nil
	case KindPend:
		return NewPendNode(cfg), nil
	case KindChatOut:
		return NewChatOutNode(cfg), nil
	case KindCode:
		return NewCodeNode(cfg), nil
	case KindToolPicker:
		return NewToolPickerNode(cfg), nil
	case KindVariable:
		return NewVariableNode(cfg), nil
	case KindStart, KindEnd, KindCondition, KindLoop, KindNoop:
		return Passthrough, nil
	default:
		return nil, errors.New(errors.KindCompileFailure, "unknown node type", nil).
			WithContext("kind", string(kind))
	}
}
