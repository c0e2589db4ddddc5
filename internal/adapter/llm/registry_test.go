package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", &mockProvider{name: "b"}))
	require.NoError(t, r.Register("a", &mockProvider{name: "a"}))

	err := r.Register("a", &mockProvider{name: "again"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, []string{"a", "b"}, r.List())

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound, "no default yet")

	r.SetDefault("b")
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	p, err = r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())

	_, err = r.Get("zzz")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
