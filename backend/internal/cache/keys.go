package cache

import "fmt"

// 键语义：
// - roomKey(docID):           房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(docID):          房间内 userId→displayName 映射（Hash）
// - cursorKey(docID, userID): 最近一次光标位置（String，带 TTL）
// - docsKey():                有在线成员的文档索引（Set<docID>）

// {} 内是 cluster 的 hash tag：同一文档的 key 落在同一个 slot，TxPipeline / lua 才能跨 key
const (
	keyRoomFmt   = "presence:room:{docID:%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt  = "presence:room:names:{docID:%s}" // Hash<userId -> displayName>
	keyCursorFmt = "presence:cursor:{docID:%s}:%s"  // String
	keyDocsSet   = "presence:docs"                  // Set<docID>
)

func roomKey(docID string) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string                 { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID string, userID string) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
func docsKey() string                              { return keyDocsSet }
