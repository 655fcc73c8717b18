package sink

import (
	"go.uber.org/zap"
)

// Log writes events to a zap logger: chat at info, errors and states at
// info, pixel batches at debug.
type Log struct{ L *zap.Logger }

func (s Log) Publish(ev Event) {
	l := s.L
	if l == nil {
		l = zap.L()
	}
	fields := []zap.Field{zap.String("kind", string(ev.Kind))}
	if ev.Identity != "" {
		fields = append(fields, zap.String("identity", ev.Identity))
	}
	if ev.Connection != "" {
		fields = append(fields, zap.String("conn", ev.Connection))
	}
	switch ev.Kind {
	case KindPixels:
		l.Debug("pixels", append(fields, zap.Int("board", ev.Board), zap.Int("count", len(ev.Pixels)))...)
	case KindChat:
		if ev.Chat != nil {
			fields = append(fields, zap.String("user", ev.Chat.Username), zap.String("message", ev.Chat.Message))
		}
		l.Info("chat", fields...)
	case KindError:
		l.Info("server error code", append(fields, zap.Int("code", ev.Code))...)
	case KindState:
		if ev.Error != "" {
			fields = append(fields, zap.String("error", ev.Error))
		}
		l.Info("connection state", append(fields, zap.String("state", ev.State))...)
	default:
		l.Debug("event", fields...)
	}
}
