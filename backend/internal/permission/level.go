package permission

import (
	"fmt"
	"strings"
)

// Level 数值越大权限越高，比较时直接用 >=
type Level int

const (
	LevelNone Level = iota
	LevelViewer
	LevelCommenter
	LevelEditor
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelCommenter:
		return "commenter"
	case LevelEditor:
		return "editor"
	case LevelAdmin:
		return "admin"
	default:
		return "none"
	}
}

// ParseLevel "owner" 视为 admin
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return LevelNone, nil
	case "viewer":
		return LevelViewer, nil
	case "commenter":
		return LevelCommenter, nil
	case "editor":
		return LevelEditor, nil
	case "admin", "owner":
		return LevelAdmin, nil
	}
	return LevelNone, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
