package streamserver

// Callback receives server lifecycle and registry notifications. It is meant
// for a thin status surface (UI, supervisor); implementations must not block,
// and must not assume which goroutine invokes them.
type Callback interface {
	OnServerStarted(url string)
	OnServerError(message string)
	OnClientConnected(count int)
	OnClientDisconnected(count int)
}

// NopCallback is a Callback that ignores every notification.
type NopCallback struct{}

func (NopCallback) OnServerStarted(string)   {}
func (NopCallback) OnServerError(string)     {}
func (NopCallback) OnClientConnected(int)    {}
func (NopCallback) OnClientDisconnected(int) {}
