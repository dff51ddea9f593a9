package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-mesh/config"
)

// gatherValues 注册采集器并把采集结果拍平成 名称→数值
func gatherValues(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("注册采集器失败: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if g := m.GetGauge(); g != nil && g.Value != nil {
				out[mf.GetName()] = g.GetValue()
			}
			if cv := m.GetCounter(); cv != nil && cv.Value != nil {
				out[mf.GetName()] = cv.GetValue()
			}
		}
	}
	return out
}

func TestCollector_ExportsEngineGauges(t *testing.T) {
	counter := NewCounter(config.DefaultBandwidthConfig())
	counter.RecordIn(testNodeID(0x01), 128)
	counter.RecordOut(testNodeID(0x01), 64)

	c := NewCollector(Sources{
		PeersKnown:     func() int { return 12 },
		PeersConnected: func() int { return 3 },
		DedupEntries:   func() int { return 77 },
		OutboxDepth:    func() int { return 5 },
		DHTKeys:        func() int { return 9 },
		DHTBytes:       func() int64 { return 4096 },
		Bandwidth:      counter.Totals,
	})

	got := gatherValues(t, c)
	want := map[string]float64{
		"mesh_peers_known":                  12,
		"mesh_peers_connected":              3,
		"mesh_dedup_entries":                77,
		"mesh_outbox_depth":                 5,
		"mesh_dht_keys":                     9,
		"mesh_dht_bytes":                    4096,
		"mesh_bandwidth_in_bytes_total":     128,
		"mesh_bandwidth_out_bytes_total":    64,
		"mesh_bandwidth_in_messages_total":  1,
		"mesh_bandwidth_out_messages_total": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %v, 期望 %v", name, got[name], v)
		}
	}
}

func TestCollector_NilSourcesSkipped(t *testing.T) {
	c := NewCollector(Sources{
		PeersConnected: func() int { return 1 },
	})

	got := gatherValues(t, c)
	if len(got) != 1 {
		t.Fatalf("只应导出 1 个指标，得到 %v", got)
	}
	if got["mesh_peers_connected"] != 1 {
		t.Fatalf("mesh_peers_connected = %v", got["mesh_peers_connected"])
	}
	if _, ok := got["mesh_bandwidth_in_bytes_total"]; ok {
		t.Fatal("nil 回调的指标不应导出")
	}
}
