package plugins

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/livinlefevreloca/omakase-sync/internal/db"
)

// headerBytes bounds how much of a file is searched for header fields
const headerBytes = 8 << 10

var (
	nameField    = regexp.MustCompile(`(?mi)^[ \t/*#@]*Plugin Name:(.*)$`)
	versionField = regexp.MustCompile(`(?mi)^[ \t/*#@]*Version:(.*)$`)
	closeComment = regexp.MustCompile(`\s*(?:\*/|\?>).*`)
)

// ParseHeader reads the plugin header comment at the top of a PHP file.
// ok is false when the file has no Plugin Name field.
func ParseHeader(r io.Reader) (name, version string, ok bool, err error) {
	buf := make([]byte, headerBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", "", false, err
	}
	head := strings.ReplaceAll(string(buf[:n]), "\r", "\n")

	name = headerValue(nameField, head)
	if name == "" {
		return "", "", false, nil
	}
	return name, headerValue(versionField, head), true, nil
}

func headerValue(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(closeComment.ReplaceAllString(m[1], ""))
}

// Scan finds installed plugins in a plugins directory. It looks at PHP
// files in the root and one level down, the same places the host looks.
// Results are ordered by file path.
func Scan(fsys fs.FS) ([]Plugin, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins dir: %w", err)
	}

	var found []Plugin
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if !entry.IsDir() {
			if p, ok := scanFile(fsys, entry.Name()); ok {
				found = append(found, p)
			}
			continue
		}

		sub, err := fs.ReadDir(fsys, entry.Name())
		if err != nil {
			continue
		}
		for _, f := range sub {
			if f.IsDir() {
				continue
			}
			if p, ok := scanFile(fsys, path.Join(entry.Name(), f.Name())); ok {
				found = append(found, p)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].FilePath < found[j].FilePath })
	return found, nil
}

func scanFile(fsys fs.FS, name string) (Plugin, bool) {
	if path.Ext(name) != ".php" {
		return Plugin{}, false
	}

	f, err := fsys.Open(name)
	if err != nil {
		return Plugin{}, false
	}
	defer f.Close()

	pluginName, version, ok, err := ParseHeader(f)
	if err != nil || !ok {
		return Plugin{}, false
	}
	return Plugin{FilePath: name, Name: pluginName, Version: version}, true
}

// Sync replaces the recorded inventory with found. Plugins that were
// already recorded keep their active flag; plugins missing from found
// are forgotten.
func (r *SQLRegistry) Sync(found []Plugin) error {
	existing, err := r.db.GetAllPlugins()
	if err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}

	active := make(map[string]bool, len(existing))
	for _, row := range existing {
		active[row.FilePath] = row.Active
	}

	rows := make([]db.Plugin, 0, len(found))
	for _, p := range found {
		rows = append(rows, db.Plugin{
			FilePath: p.FilePath,
			Name:     p.Name,
			Version:  p.Version,
			Active:   active[p.FilePath],
		})
	}

	if err := r.db.ReplacePlugins(rows); err != nil {
		return fmt.Errorf("failed to replace plugins: %w", err)
	}
	return nil
}
