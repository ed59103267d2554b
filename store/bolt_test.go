package store

import (
	"path/filepath"
	"testing"
)

func TestBoltEncryptedGroupRoundtrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.db")

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	b.SetEncryptionKey([32]byte{0x01, 0x02, 0x03})

	groupID := testGroupID(0xAA)
	if err := b.InsertGroup(&GroupRecord{GroupID: groupID, Threshold: 2, ThisParticipantID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	reopened.SetEncryptionKey([32]byte{0x01, 0x02, 0x03})

	g, err := reopened.GetGroup(groupID)
	if err != nil {
		t.Fatalf("GetGroup with the original key: %v", err)
	}
	if g.Threshold != 2 {
		t.Fatalf("expected threshold 2, got %d", g.Threshold)
	}
}

func TestBoltEncryptedGroupFailsUnderTheWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.db")

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	b.SetEncryptionKey([32]byte{0x01})

	groupID := testGroupID(0xBB)
	if err := b.InsertGroup(&GroupRecord{GroupID: groupID}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	reopened.SetEncryptionKey([32]byte{0x02})

	if _, err := reopened.GetGroup(groupID); err == nil {
		t.Fatal("expected GetGroup under the wrong key to fail")
	}
}

func TestBoltUnencryptedStoreIsUnaffected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.db")

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	groupID := testGroupID(0xCC)
	if err := b.InsertGroup(&GroupRecord{GroupID: groupID, Threshold: 3}); err != nil {
		t.Fatal(err)
	}

	g, err := b.GetGroup(groupID)
	if err != nil {
		t.Fatal(err)
	}
	if g.Threshold != 3 {
		t.Fatalf("expected threshold 3, got %d", g.Threshold)
	}
}
