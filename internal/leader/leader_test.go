package leader

import "testing"

// TestLockID_Deterministic ensures the same coordinator name always
// maps to the same advisory lock id, and distinct names essentially
// never collide in practice (fnv1a64 over short ASCII names).
func TestLockID_Deterministic(t *testing.T) {
	names := []string{"ob", "wc", "ttl", "gc", "cdc"}
	seen := map[int64]string{}

	for _, n := range names {
		id := lockID(n)
		if other, ok := seen[id]; ok {
			t.Fatalf("lock id collision between %q and %q", n, other)
		}
		seen[id] = n

		if lockID(n) != id {
			t.Fatalf("lockID(%q) not deterministic: %d != %d", n, id, lockID(n))
		}
	}
}
