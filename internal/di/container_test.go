package di

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{ name string }

func (g *greeter) String() string { return g.name }

func TestResolve(t *testing.T) {
	c := NewContainer()
	c.Register("greeter", &greeter{name: "eve"})

	g, err := Resolve[*greeter](c, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "eve", g.name)

	s, err := Resolve[fmt.Stringer](c, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "eve", s.String())

	_, err = Resolve[*greeter](c, "missing")
	assert.ErrorContains(t, err, "not registered")

	_, err = Resolve[string](c, "greeter")
	assert.ErrorContains(t, err, "has type")

	assert.Nil(t, Optional[*greeter](c, "missing"))
	assert.True(t, c.Has("greeter"))
	assert.Equal(t, []string{"greeter"}, c.GetNames())
}
