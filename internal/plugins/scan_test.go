package plugins

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const omakaseHeader = `<?php
/**
 * Plugin Name: Omakase Sync
 * Description: Reports site inventory.
 * Version: 1.2.3
 * Author: megane9988
 */
`

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		wantName    string
		wantVersion string
		wantOK      bool
	}{
		{
			name:        "docblock",
			src:         omakaseHeader,
			wantName:    "Omakase Sync",
			wantVersion: "1.2.3",
			wantOK:      true,
		},
		{
			name:        "hash comments and CRLF",
			src:         "<?php\r\n# Plugin Name: Hello\r\n# Version: 0.9\r\n",
			wantName:    "Hello",
			wantVersion: "0.9",
			wantOK:      true,
		},
		{
			name:        "single line comment close",
			src:         "<?php\n/* Plugin Name: Tiny */",
			wantName:    "Tiny",
			wantVersion: "",
			wantOK:      true,
		},
		{
			name:   "no header",
			src:    "<?php\necho 'hi';\n",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version, ok, err := ParseHeader(strings.NewReader(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestParseHeader_OnlyReadsTheTopOfTheFile(t *testing.T) {
	src := "<?php\n" + strings.Repeat("// filler\n", 1000) + "/* Plugin Name: Late */\n"

	_, _, ok, err := ParseHeader(strings.NewReader(src))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScan(t *testing.T) {
	fsys := fstest.MapFS{
		"omakase-sync/omakase-sync.php": {Data: []byte(omakaseHeader)},
		"omakase-sync/includes.php":     {Data: []byte("<?php\n// helpers\n")},
		"omakase-sync/readme.txt":       {Data: []byte("Plugin Name: not php")},
		"akismet/akismet.php":           {Data: []byte("<?php\n/*\nPlugin Name: Akismet\nVersion: 5.3\n*/")},
		"akismet/views/deep.php":        {Data: []byte("<?php\n/* Plugin Name: Too Deep */")},
		"hello.php":                     {Data: []byte("<?php\n/*\nPlugin Name: Hello Dolly\nVersion: 1.7.2\n*/")},
		".hidden/hidden.php":            {Data: []byte("<?php\n/* Plugin Name: Hidden */")},
		"index.php":                     {Data: []byte("<?php // Silence is golden.")},
	}

	found, err := Scan(fsys)
	require.NoError(t, err)

	assert.Equal(t, []Plugin{
		{FilePath: "akismet/akismet.php", Name: "Akismet", Version: "5.3"},
		{FilePath: "hello.php", Name: "Hello Dolly", Version: "1.7.2"},
		{FilePath: "omakase-sync/omakase-sync.php", Name: "Omakase Sync", Version: "1.2.3"},
	}, found)
}

func TestSQLRegistry_Sync(t *testing.T) {
	r := newRegistry(t)

	require.NoError(t, r.Install(Plugin{FilePath: "a/a.php", Name: "A", Version: "1.0"}))
	require.NoError(t, r.Install(Plugin{FilePath: "gone/gone.php", Name: "Gone", Version: "1.0"}))
	require.NoError(t, r.Activate("a/a.php"))

	err := r.Sync([]Plugin{
		{FilePath: "a/a.php", Name: "A", Version: "1.1"},
		{FilePath: "b/b.php", Name: "B", Version: "0.1"},
	})
	require.NoError(t, err)

	list, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []Plugin{
		{FilePath: "a/a.php", Name: "A", Version: "1.1"},
		{FilePath: "b/b.php", Name: "B", Version: "0.1"},
	}, list)

	active, err := r.IsActive("a/a.php")
	require.NoError(t, err)
	assert.True(t, active, "known plugin keeps its active flag")

	active, err = r.IsActive("b/b.php")
	require.NoError(t, err)
	assert.False(t, active, "new plugin starts inactive")
}
