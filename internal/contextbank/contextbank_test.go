package contextbank

import (
	"strings"
	"testing"

	"github.com/nexuscore/runtime/pkg/models"
)

func testScanner() *Scanner {
	return New(Config{
		Tokens:   []Entry{{Symbol: "ETH", Label: "Ethereum"}, {Symbol: "BTC", Label: "Bitcoin"}},
		Networks: []Entry{{Symbol: "mainnet", Label: "Ethereum Mainnet"}},
	})
}

func findType(items []models.ContextBankItem, t models.ContextBankItemType) []models.ContextBankItem {
	var out []models.ContextBankItem
	for _, it := range items {
		if it.ItemType == t {
			out = append(out, it)
		}
	}
	return out
}

func TestScanExtractsEthAddressLowercased(t *testing.T) {
	s := testScanner()
	items := s.Scan("send to 0xABCDEF1234567890ABCDEF1234567890ABCDEF12 please")
	got := findType(items, models.ItemEthAddress)
	if len(got) != 1 {
		t.Fatalf("got %d eth addresses, want 1", len(got))
	}
	if got[0].Value != "0xabcdef1234567890abcdef1234567890abcdef12" {
		t.Errorf("Value = %q, want lowercased", got[0].Value)
	}
}

func TestScanExtractsTokenSymbolCaseInsensitive(t *testing.T) {
	s := testScanner()
	items := s.Scan("I'm holding some eth and BTC right now")
	tokens := findType(items, models.ItemTokenSymbol)
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2: %+v", len(tokens), tokens)
	}
}

func TestScanExtractsNetwork(t *testing.T) {
	s := testScanner()
	items := s.Scan("deploy this on mainnet")
	nets := findType(items, models.ItemNetwork)
	if len(nets) != 1 {
		t.Fatalf("got %d networks, want 1", len(nets))
	}
}

func TestScanTagsGithubURLDistinctFromPlainURL(t *testing.T) {
	s := testScanner()
	items := s.Scan("see https://github.com/nexuscore/runtime and https://example.com/docs")
	gh := findType(items, models.ItemGithubURL)
	plain := findType(items, models.ItemURL)
	if len(gh) != 1 || gh[0].Label != "nexuscore/runtime" {
		t.Fatalf("github url = %+v, want one labeled nexuscore/runtime", gh)
	}
	if len(plain) != 1 {
		t.Fatalf("plain url count = %d, want 1", len(plain))
	}
}

func TestScanExpandsNumberSuffixes(t *testing.T) {
	s := testScanner()
	items := s.Scan("raised 2.5m and spent 100k, net worth 3b")
	nums := findType(items, models.ItemNumber)
	values := map[string]bool{}
	for _, n := range nums {
		values[n.Value] = true
	}
	for _, want := range []string{"2500000", "100000", "3000000000"} {
		if !values[want] {
			t.Errorf("expected expanded number %q in %v", want, values)
		}
	}
}

func TestScanDropsNumbersBelowOne(t *testing.T) {
	s := testScanner()
	items := s.Scan("a ratio of 0 and nothing else numeric")
	nums := findType(items, models.ItemNumber)
	if len(nums) != 0 {
		t.Errorf("got %d numbers, want 0 (values < 1 are dropped): %+v", len(nums), nums)
	}
}

func TestScanDeduplicatesByTypeAndLowercasedValue(t *testing.T) {
	s := testScanner()
	items := s.Scan("eth ETH Eth")
	tokens := findType(items, models.ItemTokenSymbol)
	if len(tokens) != 1 {
		t.Fatalf("got %d token entries, want 1 deduplicated entry", len(tokens))
	}
}

func TestFormatGroupsURLsBeforeOtherTypes(t *testing.T) {
	items := []models.ContextBankItem{
		{Value: "0xabc", ItemType: models.ItemEthAddress},
		{Value: "https://example.com", ItemType: models.ItemURL},
	}
	out := Format(items)
	if strings.Index(out, "URLs") > strings.Index(out, "Addresses") {
		t.Errorf("URLs should be formatted before Addresses, got:\n%s", out)
	}
}
