package risk

import (
	"fmt"

	"ProcessMCP/internal/protocol"
)

// Consequences describes what an operation will do, keyed off the handler's
// semantic category.
func Consequences(handler *protocol.HandlerMetadata, params map[string]any, isWrite bool) []string {
	if handler == nil {
		if isWrite {
			return []string{"the target process state will change"}
		}
		return []string{"no state changes; data is only read"}
	}
	amount := amountOf(*handler, params)
	recipient := recipientOf(*handler, params)

	switch handler.SemanticCategory() {
	case protocol.CategoryTransfer:
		msg := fmt.Sprintf("%s tokens leave your account", orSome(amount))
		if recipient != "" {
			msg += " and are credited to " + recipient
		}
		return []string{msg, "transfers cannot be reversed by the sender"}
	case protocol.CategoryBurn:
		return []string{fmt.Sprintf("%s tokens are permanently destroyed and removed from supply", orSome(amount))}
	case protocol.CategoryMint:
		return []string{fmt.Sprintf("%s new tokens are created, increasing total supply", orSome(amount))}
	case protocol.CategoryDelete:
		return []string{"the targeted record is permanently deleted"}
	case protocol.CategoryAdmin:
		return []string{"ownership or permissions of the process change"}
	case protocol.CategoryBalance:
		return []string{"the balance is read; nothing changes"}
	case protocol.CategoryInfo:
		return []string{"process information is read; nothing changes"}
	case protocol.CategoryMath:
		return []string{"a calculation runs on the target; no balances change"}
	default:
		if isWrite || handler.IsWrite {
			return []string{fmt.Sprintf("%s changes the target process state", handler.Action)}
		}
		return []string{fmt.Sprintf("%s reads data; nothing changes", handler.Action)}
	}
}

func amountOf(handler protocol.HandlerMetadata, params map[string]any) string {
	for _, spec := range handler.Parameters {
		if !spec.AmountLike() {
			continue
		}
		if v, ok := params[spec.Name]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func recipientOf(handler protocol.HandlerMetadata, params map[string]any) string {
	for _, spec := range handler.Parameters {
		if spec.Type != protocol.TypeAddress {
			continue
		}
		if v, ok := params[spec.Name]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func orSome(amount string) string {
	if amount == "" {
		return "the specified"
	}
	return amount
}
