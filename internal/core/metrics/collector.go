package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-mesh/pkg/types"
)

// ============================================================================
//                              Prometheus 导出
// ============================================================================

// Sources 引擎各组件的只读取数回调
//
// 为 nil 的回调对应的指标不导出。采集在 Prometheus 抓取时同步
// 调用，回调必须便宜且无阻塞。
type Sources struct {
	// PeersKnown 已知节点总数
	PeersKnown func() int
	// PeersConnected 直连邻居数
	PeersConnected func() int
	// DedupEntries 去重缓存条目数
	DedupEntries func() int
	// OutboxDepth 存储转发队列深度
	OutboxDepth func() int
	// DHTKeys 本地 DHT 存储键数
	DHTKeys func() int
	// DHTBytes 本地 DHT 存储字节数
	DHTBytes func() int64
	// Bandwidth 带宽累计快照
	Bandwidth func() types.BandwidthSnapshot
}

// Collector 引擎指标采集器，实现 prometheus.Collector
type Collector struct {
	src Sources

	peersKnown     *prometheus.Desc
	peersConnected *prometheus.Desc
	dedupEntries   *prometheus.Desc
	outboxDepth    *prometheus.Desc
	dhtKeys        *prometheus.Desc
	dhtBytes       *prometheus.Desc
	bytesIn        *prometheus.Desc
	bytesOut       *prometheus.Desc
	msgsIn         *prometheus.Desc
	msgsOut        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 创建指标采集器
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		peersKnown: prometheus.NewDesc(
			"mesh_peers_known", "已知节点总数", nil, nil),
		peersConnected: prometheus.NewDesc(
			"mesh_peers_connected", "直连邻居数", nil, nil),
		dedupEntries: prometheus.NewDesc(
			"mesh_dedup_entries", "去重缓存条目数", nil, nil),
		outboxDepth: prometheus.NewDesc(
			"mesh_outbox_depth", "存储转发队列深度", nil, nil),
		dhtKeys: prometheus.NewDesc(
			"mesh_dht_keys", "本地 DHT 存储键数", nil, nil),
		dhtBytes: prometheus.NewDesc(
			"mesh_dht_bytes", "本地 DHT 存储字节数", nil, nil),
		bytesIn: prometheus.NewDesc(
			"mesh_bandwidth_in_bytes_total", "累计入站字节数", nil, nil),
		bytesOut: prometheus.NewDesc(
			"mesh_bandwidth_out_bytes_total", "累计出站字节数", nil, nil),
		msgsIn: prometheus.NewDesc(
			"mesh_bandwidth_in_messages_total", "累计入站帧数", nil, nil),
		msgsOut: prometheus.NewDesc(
			"mesh_bandwidth_out_messages_total", "累计出站帧数", nil, nil),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peersKnown
	ch <- c.peersConnected
	ch <- c.dedupEntries
	ch <- c.outboxDepth
	ch <- c.dhtKeys
	ch <- c.dhtBytes
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.msgsIn
	ch <- c.msgsOut
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	counter := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}

	if f := c.src.PeersKnown; f != nil {
		gauge(c.peersKnown, float64(f()))
	}
	if f := c.src.PeersConnected; f != nil {
		gauge(c.peersConnected, float64(f()))
	}
	if f := c.src.DedupEntries; f != nil {
		gauge(c.dedupEntries, float64(f()))
	}
	if f := c.src.OutboxDepth; f != nil {
		gauge(c.outboxDepth, float64(f()))
	}
	if f := c.src.DHTKeys; f != nil {
		gauge(c.dhtKeys, float64(f()))
	}
	if f := c.src.DHTBytes; f != nil {
		gauge(c.dhtBytes, float64(f()))
	}
	if f := c.src.Bandwidth; f != nil {
		snap := f()
		counter(c.bytesIn, float64(snap.TotalIn))
		counter(c.bytesOut, float64(snap.TotalOut))
		counter(c.msgsIn, float64(snap.MsgsIn))
		counter(c.msgsOut, float64(snap.MsgsOut))
	}
}
