package transfers

import "testing"

func TestNewPool_InvalidArguments(t *testing.T) {
	if _, err := NewPool(nil, 0x81, 4, 32, 0); err == nil {
		t.Error("NewPool with packet size 0 succeeded, want error")
	}
	if _, err := NewPool(nil, 0x81, 4, 32, 3072); err == nil {
		t.Error("NewPool with nil handle succeeded, want error")
	}
}
