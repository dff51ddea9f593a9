// Package peerstore 维护本节点已知的全部对端档案。
//
// 每个对端一条 types.Peer 记录：公钥、端点、状态、信誉与链路质量。
// 档案在内存中即时更新，脏记录由后台循环批量落盘，重启后恢复
// （瞬态连接状态在加载时归位为 Discovered，拉黑状态保留）。
package peerstore
