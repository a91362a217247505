package usage

// 节点类型取值，直接进入可视化层消费的 JSON。
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Node 是一层目录树的输出结构：请求目录自身加其直接子项。
// 每次请求都重新物化，不做持久化。
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Type     string  `json:"type"`
	Children []*Node `json:"children,omitempty"`
}
