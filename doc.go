// Package mqtt5 is an MQTT v5.0 client engine.
//
// This package implements the client side of the MQTT Version 5.0 OASIS
// Standard: https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - All 15 MQTT v5.0 control packet types with bit-exact framing
//   - Topic name and topic filter validation, wildcard matching
//   - QoS 0, 1 and 2 flows in both directions
//   - Automatic reconnect with backoff or immediate policies
//   - Offline publish queue replayed in order after reconnect
//   - Transports: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, HTTP and
//     SOCKS5 proxies
//   - Enhanced authentication (SCRAM-SHA-1, SHA-256, SHA-512)
//
// # Engine
//
// The Engine owns one session with a broker. Initialize it once, then
// connect, subscribe and publish; every network operation runs on a worker
// pool and reports through a Token:
//
//	opts, err := mqtt5.NewConnectionOptions(
//	    mqtt5.WithKeepAlive(30),
//	    mqtt5.WithReconnectPolicy(mqtt5.ReconnectBackoff),
//	)
//
//	engine := mqtt5.NewEngine()
//	err = engine.Initialize(mqtt5.Config{
//	    AppContext:     ctx,
//	    ServerURI:      "tcp://localhost:1883",
//	    SubscribeTopic: "devices/42/cmd/#",
//	    Options:        &opts,
//	    Handler:        onEvent,
//	})
//	err = engine.Connect()
//
// Publishing never loses a message while the connection is down. The
// message is queued, a reconnect starts and the token completes once the
// message goes out:
//
//	tok, err := engine.PublishMessage(mqtt5.NewTextMessage("devices/42/state", "on", mqtt5.QoS1, false))
//	err = tok.WaitForCompletion(10 * time.Second)
//
// # Events
//
// The engine reports through a single EventHandler, called on one
// goroutine in emission order:
//
//	func onEvent(ev mqtt5.Event) {
//	    switch ev := ev.(type) {
//	    case *mqtt5.MessageArrivedEvent:
//	        fmt.Println(ev.Message.Topic, string(ev.Message.Payload))
//	    case *mqtt5.ConnectionLostEvent:
//	        log.Print(ev.Cause)
//	    }
//	}
//
// The extensions/router package dispatches MessageArrivedEvent by topic
// filter and message metadata.
//
// # Packets
//
// Use ReadPacket and WritePacket to work with packets directly:
//
//	pkt, n, err := mqtt5.ReadPacket(conn, maxPacketSize)
//	n, err = mqtt5.WritePacket(conn, packet, maxPacketSize)
//
// EncodeSubscribe and DecodeSubscribe give the byte-level SUBSCRIBE
// contract.
//
// # Configuration
//
// LoadConfig reads the same settings from a TOML or YAML file:
//
//	fc, err := mqtt5.LoadConfig("client.toml")
//	cfg, err := fc.EngineConfig(ctx)
//
// # Logging
//
// Implement Logger, or use ZapLogger:
//
//	logger, err := mqtt5.NewZapLogger(mqtt5.LogLevelInfo)
package mqtt5
