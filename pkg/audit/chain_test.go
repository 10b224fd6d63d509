package audit

import "testing"

func buildChain(t *testing.T, n int) []*Record {
	t.Helper()
	genesis, err := CreateGenesisRecord("t1")
	if err != nil {
		t.Fatalf("CreateGenesisRecord() error = %v", err)
	}
	records := []*Record{genesis}
	head := ChainState{LastSequence: genesis.SequenceNumber, LastHash: genesis.RecordHash}

	for i := 0; i < n; i++ {
		rec, err := ChainEvent(&Record{EventType: "alert.classified", TenantID: "t1"}, head)
		if err != nil {
			t.Fatalf("ChainEvent() error = %v", err)
		}
		records = append(records, rec)
		head = ChainState{LastSequence: rec.SequenceNumber, LastHash: rec.RecordHash}
	}
	return records
}

func TestVerifyChainEmpty(t *testing.T) {
	valid, errs := VerifyChain(nil)
	if !valid || len(errs) != 0 {
		t.Errorf("VerifyChain(nil) = (%v, %v), want (true, nil)", valid, errs)
	}
}

func TestVerifyChainValid(t *testing.T) {
	records := buildChain(t, 5)
	valid, errs := VerifyChain(records)
	if !valid {
		t.Errorf("VerifyChain() = false, errs=%v, want true", errs)
	}
}

func TestVerifyChainDetectsHashTampering(t *testing.T) {
	records := buildChain(t, 3)
	records[1].Severity = "tampered"

	valid, errs := VerifyChain(records)
	if valid {
		t.Error("VerifyChain() = true for tampered record, want false")
	}
	if len(errs) == 0 {
		t.Error("expected at least one error for tampered record")
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	records := buildChain(t, 3)
	records[2].PreviousHash = "deadbeef"

	valid, errs := VerifyChain(records)
	if valid {
		t.Error("VerifyChain() = true for broken link, want false")
	}
	found := false
	for _, e := range errs {
		if containsSubstring(e, "previous_hash does not link") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a previous_hash link error, got %v", errs)
	}
}

func TestVerifyChainDetectsSequenceGap(t *testing.T) {
	records := buildChain(t, 3)
	records[2].SequenceNumber = 10

	valid, errs := VerifyChain(records)
	if valid {
		t.Error("VerifyChain() = true for sequence gap, want false")
	}
	found := false
	for _, e := range errs {
		if containsSubstring(e, "sequence gap") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a sequence gap error, got %v", errs)
	}
}

func TestVerifyChainOutOfOrderInput(t *testing.T) {
	records := buildChain(t, 3)
	shuffled := []*Record{records[2], records[0], records[3], records[1]}

	valid, errs := VerifyChain(shuffled)
	if !valid {
		t.Errorf("VerifyChain() with out-of-order input = false, errs=%v, want true (sorted internally)", errs)
	}
}

func containsSubstring(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
