// Package routing 维护直连邻居集与学到的多跳路由。
//
// 路由是派生知识：每条路由来自反向路径学习（中继上报每个被接受
// 信封的 origin/arrivedVia/hops）或外部注入（DHT 解析），带过期
// 时间，过期条目只会被清理，从不参与选路。
//
// 成本模型：cost = hops + (100−quality)/25。邻居质量变化时，
// 途经该邻居的路由按差值重新加权；邻居失联时途经路由加罚直到
// 下一次刷新。选路规则：目标是直连邻居则直接返回；否则在未过期
// 且下一跳仍在邻居集内的路由中取成本最低者，平局取最近更新的。
package routing
