package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShareIsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "no expiry never expires", expiresAt: nil, want: false},
		{name: "past expiry is expired", expiresAt: &past, want: true},
		{name: "future expiry is active", expiresAt: &future, want: false},
		{name: "exactly at expiry is still active", expiresAt: &now, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Share{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, s.IsExpired(now))
		})
	}
}
