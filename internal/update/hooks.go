package update

import (
	"regionline/internal/region"
	"regionline/internal/wire"
)

// ResponseHook sees every applied response together with the request that
// produced it. Hooks run on the coordinator's lock and must not call back
// into the Coordinator.
type ResponseHook func(resp *wire.Response, req *Request)

// HandlerHook intercepts the fragment pipeline.
type HandlerHook interface {
	// Init is called for every region about to be requested. Returning true
	// means the hook handled the region locally and it is left out of the
	// request.
	Init(f *FragmentRequest, r *region.Region) bool
	// ProcessFragment may rewrite a fragment's content before insertion.
	ProcessFragment(f *FragmentRequest, content string) string
}

// AddResponseHook registers h.
func (c *Coordinator) AddResponseHook(h ResponseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseHooks = append(c.responseHooks, h)
}

// AddHandlerHook registers h.
func (c *Coordinator) AddHandlerHook(h HandlerHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerHooks = append(c.handlerHooks, h)
}

func (c *Coordinator) initHooks(f *FragmentRequest, r *region.Region) bool {
	handled := false
	for _, h := range c.handlerHooks {
		if h.Init(f, r) {
			handled = true
		}
	}
	return handled
}
