package authtoken

import (
	"testing"
	"time"

	"github.com/ukunda/rdm/internal/v1/types"
)

func TestMintAndVerify_RoundTrip(t *testing.T) {
	m := NewMinter("a-secret-at-least-32-bytes-long!", time.Hour)

	token, err := m.Mint("participant-1", "ABC-123-XYZ", "alice")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	claims, err := m.Verify(token, "ABC-123-XYZ")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.ParticipantID != "participant-1" || claims.RoomCode != "ABC-123-XYZ" || claims.Username != "alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_RejectsWrongRoom(t *testing.T) {
	m := NewMinter("a-secret-at-least-32-bytes-long!", time.Hour)

	token, err := m.Mint("participant-1", "ROOM-ONE-ABC", "alice")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	if _, err := m.Verify(token, types.RoomCode("ROOM-TWO-XYZ")); err == nil {
		t.Error("expected Verify to reject a token minted for a different room")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	minter1 := NewMinter("first-secret-at-least-32-bytes!!", time.Hour)
	minter2 := NewMinter("second-secret-at-least-32-bytes!", time.Hour)

	token, err := minter1.Mint("participant-1", "ROOM-ONE-ABC", "alice")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	if _, err := minter2.Verify(token, "ROOM-ONE-ABC"); err == nil {
		t.Error("expected Verify to reject a token signed with a different secret")
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	m := NewMinter("a-secret-at-least-32-bytes-long!", -time.Hour)

	token, err := m.Mint("participant-1", "ROOM-ONE-ABC", "alice")
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	if _, err := m.Verify(token, "ROOM-ONE-ABC"); err == nil {
		t.Error("expected Verify to reject an expired token")
	}
}

func TestVerify_RejectsGarbage(t *testing.T) {
	m := NewMinter("a-secret-at-least-32-bytes-long!", time.Hour)

	if _, err := m.Verify("not-a-jwt", "ROOM-ONE-ABC"); err == nil {
		t.Error("expected Verify to reject a malformed token string")
	}
}
