// Package config 负责加载 AgentMesh 守护进程的 YAML 配置，
// 覆盖服务、存储、协调日志、账本、重试与托管等各个部分，
// 并为未填写的字段提供默认值。
package config
