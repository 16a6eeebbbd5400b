package main

import (
	"fmt"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/render"
)

// createSink builds the render sink. The websocket server starts listening
// right away so presentation clients can connect before the session runs.
func createSink(renderCfg config.RenderConfig) (render.Sink, error) {
	switch renderCfg.Type {
	case "websocket":
		srv := render.NewServer(eventDispatcher, func() any {
			s := session.Load()
			if s == nil {
				return nil
			}
			return s.Status()
		}, Logger)
		if err := srv.Start(renderCfg.Listen); err != nil {
			_ = srv.Close()
			return nil, err
		}
		Logger.Info("WebSocket render sink initialized", "addr", srv.Addr())
		return srv, nil

	case "zmq":
		sink, err := render.NewZMQSink(renderCfg.ZMQEndpoint, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create zmq render sink: %w", err)
		}
		Logger.Info("ZeroMQ render sink initialized", "endpoint", renderCfg.ZMQEndpoint)
		return sink, nil

	default:
		Logger.Info("Log render sink initialized")
		return render.NewLogSink(Logger), nil
	}
}
