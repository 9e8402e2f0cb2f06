// Package ecosystem 聚合各包分发体系（PyPI、Debian/Ubuntu）的路径约定，
// 并提供统一的注册入口。
//
// 生态作者需要：
//  1. 在 internal/ecosystem/<key>/ 目录下实现请求路径 ↔ ArtifactKey 的互转；
//  2. 通过本包暴露的 Register 函数在 init() 中注册生态元数据；
//  3. 保证缓存落盘仍遵循 StoragePath/<ecosystem>/<package>/<version>/<variant> 布局。
//
// 该包同时负责提供生态发现与诊断端的对外查询能力。
package ecosystem
