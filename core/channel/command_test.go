package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitIDWireFormat(t *testing.T) {
	b, err := json.Marshal(UnitID(1))
	require.NoError(t, err)
	assert.Equal(t, `"001"`, string(b))

	var id UnitID
	require.NoError(t, json.Unmarshal([]byte(`"001"`), &id))
	assert.Equal(t, UnitID(1), id)

	require.NoError(t, json.Unmarshal([]byte(`"0012"`), &id))
	assert.Equal(t, UnitID(12), id)

	require.NoError(t, json.Unmarshal([]byte(`4`), &id))
	assert.Equal(t, UnitID(4), id)
}

func TestUnitIDRejectsGarbage(t *testing.T) {
	var id UnitID
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`"000"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestNaviTargetWireFormat(t *testing.T) {
	b, err := json.Marshal(NaviTarget(3))
	require.NoError(t, err)
	assert.Equal(t, `"Car003"`, string(b))

	var n NaviTarget
	require.NoError(t, json.Unmarshal(b, &n))
	assert.Equal(t, NaviTarget(3), n)
	assert.Error(t, json.Unmarshal([]byte(`"003"`), &n))
}

func TestDisplayCommandJSON(t *testing.T) {
	b, err := json.Marshal(Terminal)
	require.NoError(t, err)
	assert.Equal(t, `"#"`, string(b))
}
