package protocol

import (
	"strings"
	"unicode"
)

// Category is the semantic family of a handler.
type Category string

const (
	CategoryBalance  Category = "balance"
	CategoryTransfer Category = "transfer"
	CategoryMint     Category = "mint"
	CategoryBurn     Category = "burn"
	CategoryDelete   Category = "delete"
	CategoryInfo     Category = "info"
	CategoryAdmin    Category = "admin"
	CategoryMath     Category = "math"
	CategoryGeneric  Category = "generic"
)

// categoryKeywords is checked in order; the first family with a matching
// word wins, so destructive families come before generic ones.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryBurn, []string{"burn", "destroy"}},
	{CategoryDelete, []string{"delete", "remove", "revoke", "erase"}},
	{CategoryMint, []string{"mint", "issue"}},
	{CategoryTransfer, []string{"transfer", "send", "pay", "withdraw", "deposit"}},
	{CategoryBalance, []string{"balance", "balances"}},
	{CategoryAdmin, []string{"admin", "owner", "permission", "role", "grant", "setowner"}},
	{CategoryMath, []string{"add", "subtract", "multiply", "divide", "sum", "calculate", "plus", "minus"}},
	{CategoryInfo, []string{"info", "status", "metadata", "describe", "details", "stats"}},
}

// InferCategory derives a category from a handler's action name and
// description.
func InferCategory(action, description string) Category {
	actionWords := Words(action)
	for _, entry := range categoryKeywords {
		if containsAny(actionWords, entry.words) {
			return entry.category
		}
	}
	descWords := Words(description)
	for _, entry := range categoryKeywords {
		if containsAny(descWords, entry.words) {
			return entry.category
		}
	}
	return CategoryGeneric
}

// Words splits text into lower-case tokens, breaking camel case action names
// such as "GetBalance" into "get" and "balance".
func Words(text string) []string {
	var (
		words   []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && len(current) > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					flush()
				}
			}
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()
	return words
}

func containsAny(words, candidates []string) bool {
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}
