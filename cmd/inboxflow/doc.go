/*
Package main 提供 InboxFlow 服务端程序入口。

# 概述

cmd/inboxflow 是邮件工作流引擎的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集和 OpenTelemetry 链路追踪。

# 核心类型

  - Server     — 主服务器，装配存储后端、Oracle、工作流引擎并管理优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 存储后端：memory（进程内）、redis、database（postgres / sqlite）
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、RateLimiter（基于 IP）
  - 优雅关闭：信号监听 → 关闭 HTTP → 并发断开存储连接与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
