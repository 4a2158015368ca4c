package live

import (
	"fmt"
	"strings"

	"github.com/jxskiss/base62"

	"binance-perp-grid-go/internal/models"
)

// 客户端订单 ID 前缀。带此前缀的挂单归本引擎管理，
// 其余挂单（人工下的、别的程序下的）对账时不动。
const tagPrefix = "pg"

// kindCodes 把订单角色压缩成短码，塞进 clientOrderId。
var kindCodes = map[models.OrderKind]string{
	models.KindInitialLongEntry:  "il",
	models.KindInitialShrtEntry:  "is",
	models.KindLongReentry:       "rl",
	models.KindShrtReentry:       "rs",
	models.KindStopLossLongClose: "xl",
	models.KindStopLossShrtClose: "xs",
	models.KindStopLossLongEntry: "hl",
	models.KindStopLossShrtEntry: "hs",
	models.KindLongClose:         "cl",
	models.KindShrtClose:         "cs",
}

var codeKinds = func() map[string]models.OrderKind {
	m := make(map[string]models.OrderKind, len(kindCodes))
	for k, v := range kindCodes {
		m[v] = k
	}
	return m
}()

// TagCodec 负责生成与解析客户端订单 ID。
// 格式: pg<会话标识>_<短码>_<序号>，全部 base62 安全字符。
type TagCodec struct {
	sessionTag string
}

// NewTagCodec 用会话标识构造编码器。sessionID 任意非空字符串，
// 只取其 base62 编码的前 8 个字符，保证总长不超过交易所上限。
func NewTagCodec(sessionID string) *TagCodec {
	enc := base62.EncodeToString([]byte(sessionID))
	if len(enc) > 8 {
		enc = enc[:8]
	}
	return &TagCodec{sessionTag: enc}
}

// Encode 为一张订单生成 clientOrderId。
func (c *TagCodec) Encode(kind models.OrderKind, seq int64) string {
	code, ok := kindCodes[kind]
	if !ok {
		code = "uk"
	}
	return fmt.Sprintf("%s%s_%s_%s",
		tagPrefix, c.sessionTag, code, string(base62.FormatInt(seq)))
}

// Decode 解析 clientOrderId。ok 为 false 表示不是本引擎生成的标签。
func (c *TagCodec) Decode(tag string) (kind models.OrderKind, seq int64, ok bool) {
	if !strings.HasPrefix(tag, tagPrefix) {
		return "", 0, false
	}
	parts := strings.Split(tag[len(tagPrefix):], "_")
	if len(parts) != 3 {
		return "", 0, false
	}
	kind, found := codeKinds[parts[1]]
	if !found {
		return "", 0, false
	}
	seq, err := base62.ParseInt([]byte(parts[2]))
	if err != nil {
		return "", 0, false
	}
	return kind, seq, true
}

// Owns 报告一个 clientOrderId 是否由本引擎（任意会话）生成。
func (c *TagCodec) Owns(tag string) bool {
	return strings.HasPrefix(tag, tagPrefix)
}
