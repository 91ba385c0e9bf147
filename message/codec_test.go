package message

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserr "github.com/ralflukner/devcomm/errors"
)

func draft() Draft {
	return Draft{
		Sender:   "claude",
		To:       "gemini",
		Type:     TypeTask,
		Priority: PriorityHigh,
		Subject:  "TypeScript error in patient_sync",
		Body:     "Can you help debug line 47?",
		ThreadID: "ts-error-12345",
	}
}

func TestBuild_StampsMetadata(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(m.ID, "claude-"))
	assert.Equal(t, ProtocolVersion, m.Version)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`, m.Timestamp)
	assert.Len(t, m.Hash, 8)
}

func TestBuild_IDsAreUniquePerSender(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		m, err := Build(draft())
		require.NoError(t, err)
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestBuild_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"missing sender", func(d *Draft) { d.Sender = "" }},
		{"missing body", func(d *Draft) { d.Body = "" }},
		{"missing type", func(d *Draft) { d.Type = "" }},
		{"unknown type", func(d *Draft) { d.Type = "gossip" }},
		{"empty custom type", func(d *Draft) { d.Type = "custom:" }},
		{"bad priority", func(d *Draft) { d.Priority = "urgent" }},
		{"subject too long", func(d *Draft) { d.Subject = strings.Repeat("x", MaxSubjectLen+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draft()
			tt.mutate(&d)
			_, err := Build(d)
			require.Error(t, err)
			assert.True(t, buserr.Is(err, buserr.CodeValidation))
		})
	}
}

func TestBuild_SubjectLimitCountsRunes(t *testing.T) {
	// 100 multibyte characters are within the limit even though the
	// byte length is far past it.
	d := draft()
	d.Subject = strings.Repeat("ü", MaxSubjectLen)
	_, err := Build(d)
	assert.NoError(t, err)

	d.Subject = strings.Repeat("ü", MaxSubjectLen+1)
	_, err = Build(d)
	require.Error(t, err)
	assert.True(t, buserr.Is(err, buserr.CodeValidation))
}

func TestBuild_CustomTypeAllowed(t *testing.T) {
	d := draft()
	d.Type = "custom:deploy"
	_, err := Build(d)
	assert.NoError(t, err)
}

func TestBuild_SizeCap(t *testing.T) {
	d := draft()
	d.Body = strings.Repeat("a", DefaultMaxSize)
	_, err := Build(d)
	require.Error(t, err)
	assert.True(t, buserr.Is(err, buserr.CodeValidation))

	// Just under the cap passes.
	d.Body = strings.Repeat("a", 3000)
	_, err = Build(d)
	assert.NoError(t, err)
}

func TestHash_DeterministicAcrossReserialization(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)

	wire, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, m.Hash, decoded.Hash)

	// And once more through the wire.
	wire2, err := Encode(decoded)
	require.NoError(t, err)
	again, err := Decode(wire2)
	require.NoError(t, err)
	assert.Equal(t, m.Hash, again.Hash)
}

func TestHash_NeverTrustedFromWire(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)

	wire, err := Encode(m)
	require.NoError(t, err)
	tampered := strings.Replace(string(wire), m.Hash, "deadbeef", 1)

	decoded, err := Decode([]byte(tampered))
	require.NoError(t, err)
	assert.Equal(t, m.Hash, decoded.Hash)
}

func TestHash_IgnoresCopyTag(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)

	mirror := *m
	mirror.Copy = true
	wire, err := Encode(&mirror)
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	assert.True(t, decoded.Copy)
	assert.Equal(t, m.Hash, decoded.Hash)
}

func TestCanonical_SortedAndHashless(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)

	canonical, err := Canonical(m)
	require.NoError(t, err)
	assert.NotContains(t, string(canonical), `"hash"`)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(canonical, &doc))
	assert.Equal(t, "claude", doc["sender"])
}

func TestFromFields(t *testing.T) {
	m, err := Build(draft())
	require.NoError(t, err)
	fields, err := WireFields(m)
	require.NoError(t, err)

	decoded, err := FromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, m.ID, decoded.ID)

	// Older producers used "msg" as the field name.
	legacy := map[string]string{"msg": fields[FieldData]}
	decoded, err = FromFields(legacy)
	require.NoError(t, err)
	assert.Equal(t, m.ID, decoded.ID)

	_, err = FromFields(map[string]string{"other": "x"})
	assert.Error(t, err)

	_, err = FromFields(map[string]string{FieldData: "{not json"})
	assert.Error(t, err)
}

func TestNewCorrelationID(t *testing.T) {
	a := NewCorrelationID("claude")
	b := NewCorrelationID("claude")
	assert.True(t, strings.HasPrefix(a, "claude_"))
	assert.NotEqual(t, a, b)
}

func TestIsBroadcast(t *testing.T) {
	assert.True(t, (&Message{To: "all"}).IsBroadcast())
	assert.True(t, (&Message{}).IsBroadcast())
	assert.False(t, (&Message{To: "gemini"}).IsBroadcast())
}
