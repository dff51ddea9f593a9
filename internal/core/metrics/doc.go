// Package metrics 提供带宽计数与 Prometheus 指标导出。
//
// Counter 由传输管理器在每帧进出时打点，维护总量与每节点明细
// （字节数 + 帧数）。Collector 把引擎各组件的即时读数（连接数、
// 去重缓存、转发队列深度、DHT 存量、带宽累计）以取数回调的方式
// 暴露为 Prometheus 指标，注册到注入的 Registerer 上。
package metrics
