package audit

import "testing"

func TestComputeRecordHashDeterministic(t *testing.T) {
	rec := &Record{
		AuditID:        "a1",
		TenantID:       "t1",
		SequenceNumber: 1,
		PreviousHash:   GenesisHash,
		EventType:      "alert.classified",
		Context:        map[string]interface{}{"b": 2, "a": 1},
	}

	h1, err := ComputeRecordHash(rec)
	if err != nil {
		t.Fatalf("ComputeRecordHash() error = %v", err)
	}
	h2, err := ComputeRecordHash(rec)
	if err != nil {
		t.Fatalf("ComputeRecordHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
}

func TestComputeRecordHashExcludesRecordHash(t *testing.T) {
	rec := &Record{AuditID: "a1", TenantID: "t1", SequenceNumber: 1}
	h1, _ := ComputeRecordHash(rec)

	rec.RecordHash = "some-prior-value"
	h2, _ := ComputeRecordHash(rec)

	if h1 != h2 {
		t.Errorf("changing RecordHash changed the computed hash: %s != %s", h1, h2)
	}
}

func TestComputeRecordHashChangesWithContent(t *testing.T) {
	rec1 := &Record{AuditID: "a1", TenantID: "t1", SequenceNumber: 1, Severity: "low"}
	rec2 := &Record{AuditID: "a1", TenantID: "t1", SequenceNumber: 1, Severity: "critical"}

	h1, _ := ComputeRecordHash(rec1)
	h2, _ := ComputeRecordHash(rec2)
	if h1 == h2 {
		t.Error("expected different hashes for different severities")
	}
}

func TestGenesisHash(t *testing.T) {
	if len(GenesisHash) != 64 {
		t.Fatalf("GenesisHash length = %d, want 64", len(GenesisHash))
	}
	for _, c := range GenesisHash {
		if c != '0' {
			t.Fatalf("GenesisHash contains non-zero character: %q", GenesisHash)
		}
	}
}

func TestCreateGenesisRecord(t *testing.T) {
	rec, err := CreateGenesisRecord("tenant-42")
	if err != nil {
		t.Fatalf("CreateGenesisRecord() error = %v", err)
	}
	if rec.TenantID != "tenant-42" {
		t.Errorf("TenantID = %q, want tenant-42", rec.TenantID)
	}
	if rec.SequenceNumber != 0 {
		t.Errorf("SequenceNumber = %d, want 0", rec.SequenceNumber)
	}
	if rec.PreviousHash != GenesisHash {
		t.Errorf("PreviousHash = %q, want GenesisHash", rec.PreviousHash)
	}
	if rec.RecordHash == "" {
		t.Error("RecordHash is empty")
	}
	expected, _ := ComputeRecordHash(rec)
	if rec.RecordHash != expected {
		t.Errorf("RecordHash = %q, want %q", rec.RecordHash, expected)
	}
}

func TestChainEvent(t *testing.T) {
	genesis, _ := CreateGenesisRecord("t1")
	head := ChainState{
		TenantID:      "t1",
		LastSequence:  genesis.SequenceNumber,
		LastHash:      genesis.RecordHash,
		LastTimestamp: genesis.Timestamp,
	}

	event := &Record{EventType: "alert.classified", TenantID: "t1"}
	rec, err := ChainEvent(event, head)
	if err != nil {
		t.Fatalf("ChainEvent() error = %v", err)
	}
	if rec.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", rec.SequenceNumber)
	}
	if rec.PreviousHash != genesis.RecordHash {
		t.Errorf("PreviousHash = %q, want genesis hash %q", rec.PreviousHash, genesis.RecordHash)
	}
	expected, _ := ComputeRecordHash(rec)
	if rec.RecordHash != expected {
		t.Error("RecordHash does not match recomputed hash")
	}
}
