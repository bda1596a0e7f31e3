package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
)

func TestDirectory_Canonical(t *testing.T) {
	var d service.Directory

	cases := []struct {
		label, id string
	}{
		{"alice", "alice"},
		{"alice.jpg", "alice"},
		{"  Bob Stone.PNG ", "Bob Stone"},
		{"carol.jpeg", "carol"},
		{"dan.v2", "dan.v2"},
	}
	for _, c := range cases {
		id, name, err := d.Canonical(c.label)
		require.NoError(t, err, "label %q", c.label)
		require.Equal(t, c.id, id)
		require.Equal(t, c.id, name)
	}

	_, _, err := d.Canonical(".jpg")
	require.ErrorIs(t, err, service.ErrInvalidLabel)
}
