package cache

import "path"

// Key 唯一定位一个可缓存制品：(生态, 包名, 版本, 文件变体)。
// 构造后不可变，既作为磁盘路径来源，也作为 in-flight 协调令牌。
// 索引类请求使用 Version = "index"。Variant 允许包含 "/"（如 APT 的 pool 路径），
// 落盘时直接展开为子目录。
type Key struct {
	Ecosystem string
	Package   string
	Version   string
	Variant   string
}

// VersionIndex 标记该 Key 指向索引/元数据文档而非具体版本文件。
const VersionIndex = "index"

// String 返回稳定的字符串形式，供日志与 in-flight 表使用。
func (k Key) String() string {
	return k.Ecosystem + "/" + k.Package + "/" + k.Version + "/" + k.Variant
}

// RelPath 返回相对缓存根目录的存储路径（slash 风格）。
// 两个进程对同一 Key 计算出的路径必然一致。
func (k Key) RelPath() string {
	return path.Join(k.Ecosystem, k.Package, k.Version, k.Variant)
}

// IsZero 判断 Key 是否未填充，便于路由层快速拒绝非法请求。
func (k Key) IsZero() bool {
	return k.Ecosystem == "" || k.Package == "" || k.Version == "" || k.Variant == ""
}
