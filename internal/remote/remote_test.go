package remote

import "testing"

func TestPaths(t *testing.T) {
	if got := RecordPath(" Ada@X.com ", "transactions", "12"); got != "accounts/ada@x.com/transactions/12" {
		t.Fatalf("path = %q", got)
	}
	if got := RecordKey("accounts/ada@x.com/transactions/12"); got != "12" {
		t.Fatalf("key = %q", got)
	}
}
