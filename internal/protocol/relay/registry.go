package relay

import (
	"sync"

	"github.com/dep2p/go-mesh/internal/core/envelope"
)

// HandlerFunc 控制面信封处理器
//
// 在中继工作协程上调用，信封已通过验签（自证类型）或来自已知公钥。
type HandlerFunc func(env *envelope.Envelope) error

// registry 按信封类型分发的处理器注册表
type registry struct {
	mu       sync.RWMutex
	handlers map[envelope.Type]HandlerFunc
}

func newRegistry() *registry {
	return &registry{handlers: make(map[envelope.Type]HandlerFunc)}
}

func (r *registry) register(typ envelope.Type, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		return ErrHandlerExists
	}
	r.handlers[typ] = h
	return nil
}

func (r *registry) get(typ envelope.Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}
