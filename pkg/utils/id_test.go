package utils

import "testing"

func TestGenTempID(t *testing.T) {
	a := GenTempID()
	b := GenTempID()
	if a == b {
		t.Fatalf("temp ids collided: %s", a)
	}
	if !IsTempID(a) || !IsTempID(b) {
		t.Fatalf("generated id not recognized as temp: %s", a)
	}
}

func TestIsTempID(t *testing.T) {
	if IsTempID("srv-123") {
		t.Fatalf("server id recognized as temp")
	}
	if IsTempID("") {
		t.Fatalf("empty id recognized as temp")
	}
}
