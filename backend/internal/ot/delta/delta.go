package delta

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

var ErrInvalidOp = errors.New("INVALID_OP")

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（粗体/颜色等），服务端不解释
}

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
type Delta []Op

// Validate 检查每个 op 是否合法，并且 retain/delete 不会越过 docLen。
func (d Delta) Validate(docLen int) error {
	pos := 0
	for i, op := range d {
		switch op.Kind {
		case KindRetain:
			if op.Count <= 0 {
				return fmt.Errorf("%w: op %d retain count %d", ErrInvalidOp, i, op.Count)
			}
			pos += op.Count
		case KindDelete:
			if op.Count <= 0 {
				return fmt.Errorf("%w: op %d delete count %d", ErrInvalidOp, i, op.Count)
			}
			if pos+op.Count > docLen {
				return fmt.Errorf("%w: op %d deletes past end (%d > %d)", ErrInvalidOp, i, pos+op.Count, docLen)
			}
			docLen -= op.Count
		case KindInsert:
			if op.Text == "" {
				return fmt.Errorf("%w: op %d empty insert", ErrInvalidOp, i)
			}
			n := len([]rune(op.Text))
			pos += n
			docLen += n
		default:
			return fmt.Errorf("%w: op %d unknown kind %q", ErrInvalidOp, i, op.Kind)
		}
		if pos > docLen {
			return fmt.Errorf("%w: op %d retains past end (%d > %d)", ErrInvalidOp, i, pos, docLen)
		}
	}
	return nil
}
