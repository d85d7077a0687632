package events

// Channel 实时通道的发布面，*websocket.Hub 与 *websocket.ClusterRelay 均满足
type Channel interface {
	Publish(group, msgType string, data interface{}) int
}

// ChannelSink 把事件转发到实时通道对应的组
type ChannelSink struct {
	ch Channel
}

func NewChannelSink(ch Channel) *ChannelSink {
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Handle(ev Event) {
	if ev.Group == "" {
		return
	}
	s.ch.Publish(ev.Group, ev.Type, ev.Data)
}
