package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer(t *testing.T) {
	render, err := NewRenderer("dark", 40)
	require.NoError(t, err)

	out, err := render("Your order **order-42** is open.")
	require.NoError(t, err)
	assert.Contains(t, out, "order-42")
	assert.NotContains(t, out, "**")
}

func TestRenderer_PlainStyleKeepsMarkers(t *testing.T) {
	render, err := NewRenderer("notty", 0)
	require.NoError(t, err)

	out, err := render("Your order **order-42** is open.")
	require.NoError(t, err)
	assert.Contains(t, out, "**order-42**")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "0.1.0")
	assert.Contains(t, buf.String(), "v0.1.0")
	assert.Contains(t, buf.String(), "|___/")
}
