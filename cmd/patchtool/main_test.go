package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biorand/livepatch"
)

const testInput = `
# task limit
0x00446b12: 90 90

0x00401000: e8 7b 00 00 00
`

func TestParseRecords(t *testing.T) {
	records, err := parseRecords(strings.NewReader(testInput))
	require.NoError(t, err)
	assert.Equal(t, []livepatch.Record{
		{Addr: 0x00446b12, Payload: []byte{0x90, 0x90}},
		{Addr: 0x00401000, Payload: []byte{0xe8, 0x7b, 0x00, 0x00, 0x00}},
	}, records)
}

func TestParseRecords_Errors(t *testing.T) {
	cases := map[string]string{
		"no colon":    "0x1000 90",
		"bad address": "zz: 90",
		"too wide":    "0x100000000: 90",
		"odd hex":     "0x1000: 9",
		"not hex":     "0x1000: xy",
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseRecords(strings.NewReader(input))
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "line 1")
			}
		})
	}
}

func TestPackDump(t *testing.T) {
	records, err := parseRecords(strings.NewReader(testInput))
	require.NoError(t, err)

	var packed bytes.Buffer
	require.NoError(t, pack(livepatch.NewWriter(&packed), records))

	var out bytes.Buffer
	require.NoError(t, dump(&out, bytes.NewReader(packed.Bytes()), true))

	text := out.String()
	assert.Contains(t, text, "0x00446b12  2 bytes\n")
	assert.Contains(t, text, "0x00401000  5 bytes\n")
	assert.Contains(t, text, "NOP")
	assert.Contains(t, text, "CALL")
	assert.NotContains(t, text, "truncated")
}

func TestDump_Truncated(t *testing.T) {
	color.NoColor = true

	var packed bytes.Buffer
	require.NoError(t, pack(livepatch.NewWriter(&packed), []livepatch.Record{
		{Addr: 0x1000, Payload: []byte{1, 2, 3}},
		{Addr: 0x2000, Payload: []byte{4, 5, 6}},
	}))

	var out bytes.Buffer
	require.NoError(t, dump(&out, bytes.NewReader(packed.Bytes()[:packed.Len()-1]), false))

	text := out.String()
	assert.Contains(t, text, "0x00001000  3 bytes\n")
	assert.NotContains(t, text, "0x00002000")
	assert.Contains(t, text, "stream truncated after 1 records\n")
}
