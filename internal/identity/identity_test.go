package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndLookup(t *testing.T) {
	m, err := Parse(strings.NewReader(`
# comment
alice = Alice Example <alice@example.com>
bob=Bob Example <bob@example.com>

`))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "Alice Example <alice@example.com>", m.Lookup("alice"))
	assert.Equal(t, "Bob Example <bob@example.com>", m.Lookup("bob"))
}

func TestLookupFallsBackToSynthesizedIdentity(t *testing.T) {
	m, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "carol <carol@localhost>", m.Lookup("carol"))
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-mapping-line\n"))
	require.Error(t, err)
}
