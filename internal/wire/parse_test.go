package wire

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexID(b byte) string {
	return strings.Repeat(string(rune('a'+b%6)), 64)
}

func TestParseID(t *testing.T) {
	id := hexID(0)
	got, err := ParseID([]byte(`"` + id + `"`))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseIDRejectsEmpty(t *testing.T) {
	_, err := ParseID(nil)
	assert.Error(t, err)
}

func TestParseIDRejectsNUL(t *testing.T) {
	_, err := ParseID([]byte("\"ab\x00cd\""))
	assert.Error(t, err)
}

func TestParseIDRejectsTrailingGarbage(t *testing.T) {
	id := hexID(0)
	_, err := ParseID([]byte(`"` + id + `" garbage`))
	assert.Error(t, err)
}

func TestParseIDRejectsWrongType(t *testing.T) {
	_, err := ParseID([]byte(`123`))
	assert.Error(t, err)
}

func TestParseAncestryReversesWireOrder(t *testing.T) {
	tip, base := hexID(0), hexID(1)
	payload := fmt.Sprintf(`["%s", "%s"]`, tip, base)
	got, err := ParseAncestry([]byte(payload))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base, got[0])
	assert.Equal(t, tip, got[1])
}

func TestParseAncestryRejectsEmpty(t *testing.T) {
	_, err := ParseAncestry([]byte(`[]`))
	assert.Error(t, err)
}

func TestParseAncestryRejectsDuplicates(t *testing.T) {
	id := hexID(0)
	payload := fmt.Sprintf(`["%s", "%s"]`, id, id)
	_, err := ParseAncestry([]byte(payload))
	assert.Error(t, err)
}

func TestParseAncestryRejectsTooLong(t *testing.T) {
	ids := make([]string, LayersMax+1)
	for i := range ids {
		ids[i] = fmt.Sprintf(`"%064x"`, i)
	}
	payload := "[" + strings.Join(ids, ",") + "]"
	_, err := ParseAncestry([]byte(payload))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestParseAncestryAcceptsExactlyMax(t *testing.T) {
	ids := make([]string, LayersMax)
	for i := range ids {
		ids[i] = fmt.Sprintf(`"%064x"`, i)
	}
	payload := "[" + strings.Join(ids, ",") + "]"
	got, err := ParseAncestry([]byte(payload))
	require.NoError(t, err)
	assert.Len(t, got, LayersMax)
}

func TestParseAncestryRoundTrip(t *testing.T) {
	base, mid, tip := hexID(0), hexID(1), hexID(2)
	// wire format is tip-first
	payload := fmt.Sprintf(`["%s","%s","%s"]`, tip, mid, base)
	got, err := ParseAncestry([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, []string{base, mid, tip}, got)
}
