package interceptor

import (
	"sync"

	"github.com/google/uuid"
)

// MessageUpdateAvailable 在新代数安装完成且已有旧代数服务时广播。
const MessageUpdateAvailable = "update-available"

// Message 是发往已连接客户端的通知。
type Message struct {
	Type       string `json:"type"`
	Generation string `json:"generation,omitempty"`
}

// DefaultClientBuffer 是每个客户端的消息缓冲大小。
const DefaultClientBuffer = 8

// Client 是一个已连接的页面实例。
type Client struct {
	id       string
	messages chan Message

	mu         sync.Mutex
	controller string
}

// ID 返回客户端标识。
func (c *Client) ID() string { return c.id }

// Messages 返回只读消息通道，Disconnect 后关闭。
func (c *Client) Messages() <-chan Message { return c.messages }

// Controller 返回接管该客户端的代数名称，未被接管时为空。
func (c *Client) Controller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *Client) setController(name string) {
	c.mu.Lock()
	c.controller = name
	c.mu.Unlock()
}

// Clients 管理全部已连接客户端，包括尚未被任何代数接管的。
type Clients struct {
	buffer int

	mu      sync.RWMutex
	clients map[string]*Client
	current string
}

// NewClients 创建客户端集合，buffer <= 0 时使用 DefaultClientBuffer。
func NewClients(buffer int) *Clients {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Clients{buffer: buffer, clients: make(map[string]*Client)}
}

// Connect 注册新客户端。已有激活代数时新客户端直接受其控制。
func (h *Clients) Connect() *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{
		id:         uuid.NewString(),
		messages:   make(chan Message, h.buffer),
		controller: h.current,
	}
	h.clients[c.id] = c
	return c
}

// Disconnect 移除客户端并关闭其消息通道，重复调用无副作用。
func (h *Clients) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.messages)
}

// Broadcast 向所有客户端投递消息，不等待；缓冲已满的客户端直接丢弃。
// 返回成功投递的数量。
func (h *Clients) Broadcast(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		select {
		case c.messages <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Claim 让 name 代数立即接管全部已连接客户端，返回被接管的数量。
func (h *Clients) Claim(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = name
	for _, c := range h.clients {
		c.setController(name)
	}
	return len(h.clients)
}

// Len 返回已连接客户端数量。
func (h *Clients) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
