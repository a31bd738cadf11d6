package types

import "testing"

func TestValidIdentifier(t *testing.T) {
	valid := []string{"a", "chat", "chat_rooms", "a1_b2", "x9"}
	for _, name := range valid {
		if !ValidIdentifier(name) {
			t.Errorf("%q should be valid", name)
		}
	}

	invalid := []string{
		"", "1chat", "_chat", "Chat", "chat-rooms", "chat.rooms",
		// The separator and trailing underscores would make physical
		// names ambiguous across namespaces.
		"chat__rooms", "chat_", "a__", "foo__bar",
	}
	for _, name := range invalid {
		if ValidIdentifier(name) {
			t.Errorf("%q should be invalid", name)
		}
	}
}

func TestPhysicalNameRoundTrip(t *testing.T) {
	phys := PhysicalName("chat", "rooms")
	if phys != "chat__rooms" {
		t.Fatalf("unexpected physical name %q", phys)
	}
	if NamespacePrefix("chat")+"rooms" != phys {
		t.Error("prefix + table must equal the physical name")
	}
}
