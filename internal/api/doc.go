// Package api 对外暴露发布任务、查询任务与支付状态以及检索
// A2A 协商线程的 REST 接口，是协调核心之上的薄适配层。
package api
