package models

// ContextBankItemType categorizes one extracted context-bank term.
type ContextBankItemType string

const (
	ItemEthAddress   ContextBankItemType = "eth_address"
	ItemTokenSymbol  ContextBankItemType = "token_symbol"
	ItemNetwork      ContextBankItemType = "network"
	ItemURL          ContextBankItemType = "url"
	ItemGithubURL    ContextBankItemType = "github_url"
	ItemNumber       ContextBankItemType = "number"
)

// ContextBankItem is one term extracted from inbound message text, scoped to
// the lifetime of a single dispatch.
type ContextBankItem struct {
	Value    string              `json:"value"`
	ItemType ContextBankItemType `json:"item_type"`
	Label    string              `json:"label,omitempty"`
}

// Key returns the dedup key: (item_type, lowercased value).
func (i ContextBankItem) Key() (ContextBankItemType, string) {
	return i.ItemType, lowerASCII(i.Value)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
