package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedAndDocumentIDs(t *testing.T) {
	s := OpenStore(t, "seed")
	Seed(t, s, "b", "a")

	_, err := s.Retrieve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, DocumentIDs(t, s))
}
