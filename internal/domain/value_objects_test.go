package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewServiceName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid simple", "order-service", false},
		{"valid single char", "a", false},
		{"valid with digits", "svc2", false},
		{"empty", "", true},
		{"uppercase rejected", "Order-Service", true},
		{"leading digit rejected", "2svc", true},
		{"leading dash rejected", "-svc", true},
		{"too long", string(make([]byte, 64)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServiceName(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, ErrInvalidRequest, CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSemVer(t *testing.T) {
	_, err := NewSemVer("1.2.3")
	assert.NoError(t, err)

	_, err = NewSemVer("1.2")
	assert.Error(t, err)

	_, err = NewSemVer("v1.2.3")
	assert.Error(t, err)
}

func TestDeriveInstanceID(t *testing.T) {
	svc, _ := NewServiceName("order-service")
	id1 := DeriveInstanceID(svc)
	id2 := DeriveInstanceID(svc)

	assert.Contains(t, id1.String(), "order-service-")
	assert.NotEqual(t, id1, id2, "derived ids must be unique across calls")
}

func TestNewInstanceID(t *testing.T) {
	_, err := NewInstanceID("   ")
	assert.Error(t, err)

	id, err := NewInstanceID("order-service-a1b2c3d4")
	assert.NoError(t, err)
	assert.Equal(t, "order-service-a1b2c3d4", id.String())
}
