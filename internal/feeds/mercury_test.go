package feeds

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvimport/internal/models"
)

// instListPayload encodes an instrument list the way the bus publishes
// it: hex of zlib of JSON.
func instListPayload(t *testing.T, insts []instrument) string {
	t.Helper()
	blob, err := json.Marshal(insts)
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err = zw.Write(blob)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return hex.EncodeToString(buf.Bytes())
}

func testMercury(t *testing.T, insts []instrument) *Mercury {
	payload := instListPayload(t, insts)
	return NewMercury(func(channel string) (any, error) {
		assert.Equal(t, InstListChannel, channel)
		return payload, nil
	})
}

func TestMercuryExpandsInstruments(t *testing.T) {
	m := testMercury(t, []instrument{
		{Name: "LARMOR", PVPrefix: "IN:LARMOR:"},
	})

	assert.Equal(t, "MERCURY", m.Name())
	assert.Equal(t, models.TypeMercuryCryostat, m.ObjectTypeID())

	full, err := m.FullChannelList()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"IN:LARMOR:MERCURY_01:LEVEL:1:HELIUM",
		"IN:LARMOR:MERCURY_02:LEVEL:1:HELIUM",
	}, full)

	perObject, err := m.PerObjectChannels()
	require.NoError(t, err)
	require.Len(t, perObject, 2)
	assert.Equal(t, []string{"IN:LARMOR:MERCURY_01:LEVEL:1:HELIUM"}, perObject["LARMOR MERCURY_01"])
	assert.Equal(t, []string{"IN:LARMOR:MERCURY_02:LEVEL:1:HELIUM"}, perObject["LARMOR MERCURY_02"])
}

func TestMercuryFiltersExclusionsAndSetups(t *testing.T) {
	m := testMercury(t, []instrument{
		{Name: "LARMOR", PVPrefix: "IN:LARMOR:"},
		{Name: "DEMO", PVPrefix: "IN:DEMO:"},
		{Name: "ZOOM_SETUP", PVPrefix: "IN:ZOOM_SETUP:"},
	})

	perObject, err := m.PerObjectChannels()
	require.NoError(t, err)
	names := make([]string, 0, len(perObject))
	for n := range perObject {
		names = append(names, n)
	}
	assert.ElementsMatch(t, []string{"LARMOR MERCURY_01", "LARMOR MERCURY_02"}, names)
}

func TestMercuryPrefixWithoutTrailingColon(t *testing.T) {
	m := testMercury(t, []instrument{{Name: "EMU", PVPrefix: "IN:EMU"}})
	full, err := m.FullChannelList()
	require.NoError(t, err)
	assert.Contains(t, full, "IN:EMU:MERCURY_01:LEVEL:1:HELIUM")
}

func TestMercuryPropagatesFetchErrors(t *testing.T) {
	m := NewMercury(func(string) (any, error) { return nil, errors.New("bus down") })
	_, err := m.FullChannelList()
	require.Error(t, err)

	// garbage payloads fail loudly rather than yielding ghost objects
	m = NewMercury(func(string) (any, error) { return "not-hex!", nil })
	_, err = m.PerObjectChannels()
	require.Error(t, err)
}
