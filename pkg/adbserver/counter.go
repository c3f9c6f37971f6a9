package adbserver

import "sync"

// Counter 32位回绕的递增序列，为主机侧连接分配id
// 序列为1, 2, ..., 0xFFFFFFFF, 1, 2, ...
type Counter struct {
	mu   sync.Mutex
	next uint32
}

// NewCounter 创建从1开始的计数器
func NewCounter() *Counter {
	return &Counter{next: 1}
}

// Next 返回当前值并递增
func (c *Counter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.next
	if v == 0xFFFFFFFF {
		c.next = 1
	} else {
		c.next++
	}
	return v
}

// Set 设置下一次Next返回的值
func (c *Counter) Set(v uint32) {
	c.mu.Lock()
	c.next = v
	c.mu.Unlock()
}
