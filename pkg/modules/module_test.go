package modules

import (
	"errors"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(Upper{})

	m, err := reg.Get("upper")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Name() != "upper" {
		t.Errorf("Expected module upper, got %s", m.Name())
	}

	_, err = reg.Get("frog")
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("Expected ErrUnknown, got %v", err)
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry(Upper{})
	names := reg.Names()
	if len(names) != 1 || names[0] != "upper" {
		t.Errorf("Expected [upper], got %v", names)
	}
}

func TestUpperProcess(t *testing.T) {
	out, err := Upper{}.Process("hello")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out != "HELLO" {
		t.Errorf("Expected HELLO, got %s", out)
	}
}

func TestUpperConvert(t *testing.T) {
	out, err := Upper{}.Convert("HELLO", "json")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if out != `{"result":"HELLO"}` {
		t.Errorf("Unexpected json conversion: %s", out)
	}

	if _, err := (Upper{}).Convert("HELLO", "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
