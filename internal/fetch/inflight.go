package fetch

import "sync"

// flight 是一次 in-flight 回源的协调记录：done 关闭即完成，
// err/stale 在关闭前由 leader 填好。bytes 本身不经过 flight，
// 完成后各 waiter 自行从 Store 重新打开，保证读到的是已提交条目。
type flight struct {
	done  chan struct{}
	err   error
	stale bool
}

// flightTable 维护 key → flight 的共享表。注册是窄临界区内的
// check-and-insert；真正的网络与磁盘 I/O 都发生在锁外，
// 不同 key 之间互不阻塞。
type flightTable struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightTable() *flightTable {
	return &flightTable{flights: make(map[string]*flight)}
}

// acquire 注册或加入一次 in-flight 回源。
// 返回的 bool 表示调用方是否是赢得注册的 leader；
// 其余并发调用方拿到同一个 flight 作为 waiter。
func (t *flightTable) acquire(token string) (*flight, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fl, ok := t.flights[token]; ok {
		return fl, false
	}
	fl := &flight{done: make(chan struct{})}
	t.flights[token] = fl
	return fl, true
}

// complete 填入结果、释放所有 waiter 并移除记录。
// 无论成败记录都会被移除，后续请求重新发起而不是重放旧错误。
func (t *flightTable) complete(token string, fl *flight, err error, stale bool) {
	fl.err = err
	fl.stale = stale

	t.mu.Lock()
	delete(t.flights, token)
	t.mu.Unlock()

	close(fl.done)
}

// active 查询某个 key 是否存在 in-flight 回源，供清理协程跳过使用。
func (t *flightTable) active(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.flights[token]
	return ok
}
