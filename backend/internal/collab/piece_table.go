package collab

import (
	"strings"

	"collabEngine/backend/internal/ot/delta"
)

type bufferKind int

const (
	//iota：在 const (...) 里从 0 开始自动递增。bufOriginal = 0, bufAdd = 1
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int // 偏移量
	length int
}

type PieceTable struct {
	// 原始文本切片
	original []rune
	// 新增文本切片
	add []rune
	// 分片列表
	pieces []piece
}

func NewPieceTable(initial string) *PieceTable {
	pt := &PieceTable{}
	pt.Reset(initial)
	return pt
}

// Reset 用 content 替换整个文档
func (pt *PieceTable) Reset(content string) {
	r := []rune(content)
	pt.original = r
	pt.add = nil
	pt.pieces = nil
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			sb.WriteString(string(pt.original[p.offset : p.offset+p.length]))
		case bufAdd:
			sb.WriteString(string(pt.add[p.offset : p.offset+p.length]))
		}
	}
	return sb.String()
}

// Apply 先整体校验再修改，非法 delta 不会留下半应用的状态
func (pt *PieceTable) Apply(d delta.Delta) error {
	if err := d.Validate(pt.Len()); err != nil {
		return err
	}
	pos := 0
	//retain: 沿 piece 列表向前走，对应“移动 pos”；
	//insert: 在当前 pos 调用 insert 流程；
	//delete: 在当前 pos 调用 delete 流程（通过调整/合并 piece）。
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count

		case delta.KindInsert:
			pos += pt.insertAt(pos, []rune(op.Text))

		case delta.KindDelete:
			pt.deleteAt(pos, op.Count)
		}
	}
	return nil
}

func (pt *PieceTable) insertAt(pos int, text []rune) int {
	start := len(pt.add)
	pt.add = append(pt.add, text...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(text)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return len(text)
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	newPieces := make([]piece, 0, len(pt.pieces)+2)
	newPieces = append(newPieces, pt.pieces[:idx]...)
	if left.length > 0 {
		newPieces = append(newPieces, left)
	}
	newPieces = append(newPieces, newPiece)
	if right.length > 0 {
		newPieces = append(newPieces, right)
	}
	newPieces = append(newPieces, pt.pieces[idx+1:]...)
	pt.pieces = newPieces
	return len(text)
}

func (pt *PieceTable) deleteAt(pos, count int) {
	// 要删的剩余长度
	remain := count
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		// 这个 piece 里还剩多少可删
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		// 整个 piece 都删掉
		if offset == 0 && take == cur.length {
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
			// idx 不动（现在这个位置是删完后的下一个 piece）
		} else {
			// 拆成 左 / 右 两段
			leftLen := offset
			rightLen := cur.length - offset - take

			newPieces := make([]piece, 0, len(pt.pieces)+1)
			newPieces = append(newPieces, pt.pieces[:idx]...)
			if leftLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			newPieces = append(newPieces, pt.pieces[idx+1:]...)
			pt.pieces = newPieces
			if leftLen > 0 {
				idx++
			}
			offset = 0
		}

		remain -= take
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
